package ingestion

import (
	"RebalancePool/internal/event"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// InjectService provides admin/manual command injection over the gateway.
// It is not the high-throughput path; producers should publish to NATS.
type InjectService struct {
	parser  *Parser
	cmdChan chan<- event.Command
}

func NewInjectService(parser *Parser, cmdChan chan<- event.Command) *InjectService {
	return &InjectService{parser: parser, cmdChan: cmdChan}
}

// Inject parses a payload and hands it to the core. Payloads without an
// idempotency_key are given a fresh one.
func (s *InjectService) Inject(ctx context.Context, commandType string, data []byte) (event.Command, error) {
	data, err := withIdempotencyKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	cmd, err := s.parser.Parse(commandType, data)
	if err != nil {
		return nil, err
	}

	select {
	case s.cmdChan <- cmd:
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func withIdempotencyKey(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	if raw, ok := fields["idempotency_key"]; ok {
		var key string
		if err := json.Unmarshal(raw, &key); err == nil && key != "" {
			return data, nil
		}
	}
	key, _ := json.Marshal("admin-" + uuid.NewString())
	fields["idempotency_key"] = key
	return json.Marshal(fields)
}
