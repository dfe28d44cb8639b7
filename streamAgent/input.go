package sagent

import (
	"fmt"

	"webkvm/sdriver"
)

// SendEvent decodes one binary input message from the viewer and injects
// it on the session's machine.
func (s *Session) SendEvent(raw []byte) error {
	if !s.caps.CanControl {
		return ErrControlUnsupported
	}
	event, err := sdriver.ParseEvent(raw)
	if err != nil {
		return err
	}
	if err := s.injector.Inject(event); err != nil {
		return fmt.Errorf("inject %T: %w", event, err)
	}
	return nil
}
