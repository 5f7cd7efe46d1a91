package notifysvc

import (
	"encoding/json"
	"fmt"

	"github.com/mitihani/backend/core"
)

// ConsoleTransport prints events to stdout; the DEV/TEST stand-in.
type ConsoleTransport struct{}

func NewConsoleTransport() *ConsoleTransport {
	return &ConsoleTransport{}
}

func (t ConsoleTransport) Deliver(e core.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	fmt.Printf("NOTIFY [%s] %s %s\n", e.OccurredAt.Format("15:04:05"), e.Type, payload)
	return nil
}
