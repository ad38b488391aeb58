package notification

import (
	"context"
	"fmt"
)

// ConsoleProvider prints dispatches to stdout. Stands in for the real pager
// and work-queue integrations when none is configured.
type ConsoleProvider struct {
	prefix string
}

func NewConsoleProvider(prefix string) *ConsoleProvider {
	return &ConsoleProvider{prefix: prefix}
}

func (p *ConsoleProvider) Send(_ context.Context, d *Dispatch) error {
	fmt.Printf("[%s] patient=%s severity=%s alert=%s: %s\n",
		p.prefix, d.PatientName, d.Severity, d.AlertID, d.Message)
	return nil
}
