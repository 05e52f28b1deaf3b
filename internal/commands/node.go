package commands

import (
	"context"
	"time"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

type PingResult struct {
	Pong bool  `json:"pong"`
	Ts   int64 `json:"ts"`
}

type DescribeResult struct {
	NodeID   string   `json:"nodeId"`
	DeviceID string   `json:"deviceId"`
	Commands []string `json:"commands"`
	Caps     []string `json:"caps"`
}

func (h *handlers) registerNode(r *dispatch.Registry) error {
	if err := dispatch.Register(r, "node.ping", h.ping); err != nil {
		return err
	}
	return dispatch.Register(r, "node.describe", h.describe)
}

func (h *handlers) ping(ctx context.Context, _ struct{}) (PingResult, error) {
	return PingResult{Pong: true, Ts: time.Now().UnixMilli()}, nil
}

func (h *handlers) describe(ctx context.Context, _ struct{}) (DescribeResult, error) {
	res := DescribeResult{
		DeviceID: h.node.DeviceID,
		Commands: h.reg.Names(),
		Caps:     []string{},
	}
	if h.node.NodeID != nil {
		res.NodeID = h.node.NodeID()
	}
	if h.node.Caps != nil {
		res.Caps = h.node.Caps()
	} else {
		res.Caps = h.reg.Namespaces()
	}
	return res, nil
}
