package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifica a operação transportada por um Envelope
type Kind string

const (
	KindInit          Kind = "init"
	KindRequestDevice Kind = "requestDevice"
	KindError         Kind = "error"
)

// Status é o resultado tri-estado da verificação de disponibilidade
type Status string

const (
	// StatusUnsupported indica que a plataforma não expõe a API Bluetooth
	StatusUnsupported Status = "unsupported"
	// StatusAvailable indica API presente e adaptador disponível
	StatusAvailable Status = "available"
	// StatusUnavailable indica API presente mas sem adaptador utilizável
	StatusUnavailable Status = "unavailable"
)

// Erros da camada de protocolo. O texto de cada erro é exatamente o prefixo
// enviado à aplicação no envelope de erro.
var (
	ErrMalformedMessage = errors.New("msg is not an object")
	ErrUnknownOperation = errors.New("Unknown message type")
)

// Envelope é a única mensagem que cruza as portas, em qualquer direção.
// No fio o tag viaja em "msg" e a carga em "value".
type Envelope struct {
	Kind    Kind   `json:"msg"`
	Payload any    `json:"value,omitempty"`
	ID      string `json:"id,omitempty"` // correlação opcional, ecoada na resposta
}

// NewEnvelope cria um envelope com o tag e a carga informados
func NewEnvelope(kind Kind, payload any) Envelope {
	return Envelope{Kind: kind, Payload: payload}
}

// ErrorEnvelope cria um envelope de erro com a descrição textual do erro
func ErrorEnvelope(err error) Envelope {
	return Envelope{Kind: KindError, Payload: err.Error()}
}

// WithID retorna uma cópia do envelope carregando o ID de correlação
func (e Envelope) WithID(id string) Envelope {
	e.ID = id
	return e
}

// IsError informa se o envelope descreve uma falha
func (e Envelope) IsError() bool {
	return e.Kind == KindError
}

// Command é uma mensagem de entrada já reconhecida como objeto
type Command struct {
	Tag    any  // valor bruto do campo "msg"
	HasTag bool // false quando o campo "msg" não existe
	Value  any
	ID     string
}

// Kind retorna o tag como Kind quando ele é uma string
func (c Command) Kind() (Kind, bool) {
	if s, ok := c.Tag.(string); ok && c.HasTag {
		return Kind(s), true
	}
	return "", false
}

// TagString converte o tag para texto do mesmo modo que o host original,
// incluindo "undefined" para tag ausente
func (c Command) TagString() string {
	if !c.HasTag {
		return "undefined"
	}
	return Stringify(c.Tag)
}

// UnknownOperation descreve um tag não reconhecido
func (c Command) UnknownOperation() error {
	return fmt.Errorf("%w: %s", ErrUnknownOperation, c.TagString())
}

// ParseCommand valida uma mensagem de entrada. Aceita valores já decodificados
// (map[string]any, []any, Envelope) e JSON cru (json.RawMessage, []byte).
// Listas contam como objeto sem tag. Os demais valores resultam em
// ErrMalformedMessage.
func ParseCommand(msg any) (Command, error) {
	switch m := msg.(type) {
	case Envelope:
		return Command{Tag: string(m.Kind), HasTag: true, Value: m.Payload, ID: m.ID}, nil
	case *Envelope:
		if m == nil {
			return Command{}, malformed(nil)
		}
		return ParseCommand(*m)
	case json.RawMessage:
		return parseRaw(m)
	case []byte:
		return parseRaw(m)
	case map[string]any:
		return commandFromMap(m), nil
	case []any:
		return Command{}, nil
	default:
		return Command{}, malformed(msg)
	}
}

func parseRaw(data []byte) (Command, error) {
	v, err := DecodeValue(data)
	if err != nil {
		// JSON inválido chega à aplicação como o texto que foi recebido
		return Command{}, malformed(string(bytes.TrimSpace(data)))
	}
	switch m := v.(type) {
	case map[string]any:
		return commandFromMap(m), nil
	case []any:
		return Command{}, nil
	}
	return Command{}, malformed(v)
}

func commandFromMap(m map[string]any) Command {
	tag, hasTag := m["msg"]
	cmd := Command{Tag: tag, HasTag: hasTag, Value: m["value"]}
	if id, ok := m["id"].(string); ok {
		cmd.ID = id
	}
	return cmd
}

func malformed(v any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, Stringify(v))
}

// DecodeValue decodifica JSON preservando números como json.Number
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("dados extras após o valor JSON")
	}
	return v, nil
}
