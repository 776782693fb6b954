package bridge

import (
	"time"

	"github.com/permissionlesstech/btbridge/internal/protocol"
)

// Observer recebe eventos de despacho. kind em EnvelopeReceived é o tag
// reconhecido, "unknown" ou "malformed".
type Observer interface {
	EnvelopeReceived(kind string)
	EnvelopeSent(kind protocol.Kind)
	CallStarted(op protocol.Kind)
	CallFinished(op protocol.Kind, failed bool, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) EnvelopeReceived(string) {}
func (nopObserver) EnvelopeSent(protocol.Kind) {}
func (nopObserver) CallStarted(protocol.Kind) {}
func (nopObserver) CallFinished(protocol.Kind, bool, time.Duration) {}
