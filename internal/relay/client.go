package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// DeliverMethod is the full RPC name the relay service exposes.
const DeliverMethod = "/teachmo.relay.v1.DigestRelay/Deliver"

// ErrRejected is returned when the relay answered but refused the batch.
var ErrRejected = errors.New("digest rejected by relay")

// #region client-struct
// Client sends digest batches to the outbound delivery service over gRPC.
// Messages are google.protobuf.Struct so no generated stubs are needed.
type Client struct {
	conn   grpc.ClientConnInterface
	closer interface{ Close() error }
}

// #endregion client-struct

// #region constructor
// NewClient connects to the relay at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClientWithConn creates a Client over an existing connection.
// Used for testing without a real gRPC server.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// #endregion close

// #region deliver
type wireItem struct {
	ID         string         `json:"id"`
	SignalType string         `json:"signalType"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary,omitempty"`
	Urgency    float64        `json:"urgency"`
	Impact     float64        `json:"impact"`
	CreatedAt  string         `json:"createdAt"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type wireBatch struct {
	FamilyID string     `json:"familyId"`
	Items    []wireItem `json:"items"`
}

// Deliver sends one family's digest items. A nil error means the relay took
// responsibility for every item.
func (c *Client) Deliver(ctx context.Context, familyID string, items []store.DigestItem) error {
	req, err := encodeBatch(familyID, items)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, DeliverMethod, req, resp); err != nil {
		return fmt.Errorf("deliver rpc: %w", err)
	}

	fields := resp.GetFields()
	if v, ok := fields["accepted"]; ok && !v.GetBoolValue() {
		return fmt.Errorf("%w: %s", ErrRejected, fields["reason"].GetStringValue())
	}
	return nil
}

// encodeBatch goes through JSON so free-form meta values always map onto
// structpb kinds.
func encodeBatch(familyID string, items []store.DigestItem) (*structpb.Struct, error) {
	batch := wireBatch{FamilyID: familyID, Items: make([]wireItem, len(items))}
	for i, it := range items {
		batch.Items[i] = wireItem{
			ID:         it.ID,
			SignalType: string(it.SignalType),
			Title:      it.Title,
			Summary:    it.Summary,
			Urgency:    it.Urgency,
			Impact:     it.Impact,
			CreatedAt:  it.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Meta:       it.Meta,
		}
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode digest batch: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode digest batch: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode digest batch: %w", err)
	}
	return s, nil
}

// #endregion deliver
