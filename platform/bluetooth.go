package platform

import (
	"context"
	"errors"
)

// Erros da plataforma. Os textos seguem os nomes de erro da API Bluetooth do
// host, pois chegam à aplicação sem tradução.
var (
	// ErrUnsupported indica que a plataforma não expõe a API Bluetooth
	ErrUnsupported = errors.New("NotSupportedError")
	// ErrNotFound indica que nenhum dispositivo foi escolhido
	ErrNotFound = errors.New("NotFoundError")
	// ErrNotSupported indica uma opção de requisição não suportada
	ErrNotSupported = errors.New("NotSupportedError: opção de requisição não suportada")
	// ErrNetwork indica falha de comunicação com o serviço Bluetooth
	ErrNetwork = errors.New("NetworkError")
)

// Bluetooth define a superfície da API de capacidade Bluetooth consumida pela
// ponte: uma sonda de disponibilidade e o fluxo de escolha de dispositivo.
type Bluetooth interface {
	// Availability informa se existe um adaptador utilizável.
	// Retorna ErrUnsupported quando a API não existe nesta plataforma.
	Availability(ctx context.Context) (bool, error)

	// RequestDevice executa o fluxo de escolha de dispositivo
	RequestDevice(ctx context.Context, opts RequestOptions) (Device, error)
}

// RequestOptions são as opções do fluxo de escolha de dispositivo
type RequestOptions struct {
	AcceptAllDevices bool     `json:"acceptAllDevices"`
	Filters          []Filter `json:"filters,omitempty"`
}

// Filter restringe os dispositivos oferecidos pelo fluxo de escolha
type Filter struct {
	Services   []string `json:"services,omitempty"`
	Name       string   `json:"name,omitempty"`
	NamePrefix string   `json:"namePrefix,omitempty"`
}

// Device representa um dispositivo Bluetooth descoberto
type Device struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Address     string   `json:"address,omitempty"`
	AddressType string   `json:"addressType,omitempty"`
	RSSI        int      `json:"rssi,omitempty"`
	UUIDs       []string `json:"uuids,omitempty"`
	Paired      bool     `json:"paired"`
	Connected   bool     `json:"connected"`
}

// AcceptAll são as opções usadas pela ponte: qualquer dispositivo, sem filtros
func AcceptAll() RequestOptions {
	return RequestOptions{AcceptAllDevices: true}
}
