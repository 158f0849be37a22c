// Package model issues prompt requests to a session's agent process and
// collects the response, either as classified chunks or as a single text.
package model

import (
	"context"
	"errors"
	"fmt"

	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/process"
	"phobos.org.uk/agentbridge/internal/registry"
	"phobos.org.uk/agentbridge/internal/stream"
)

var (
	// ErrStreamEnded means the backend closed its output before the result
	// record that ends a response.
	ErrStreamEnded = errors.New("agent output ended before result")
	// ErrResponse means the backend closed the response with an error result.
	ErrResponse = errors.New("agent reported an error")
)

// Client exchanges requests with agent processes held by a registry.
type Client struct {
	reg *registry.Registry
	log *logging.Logger
}

// New creates a client over reg.
func New(reg *registry.Registry, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{reg: reg, log: log}
}

// Stream sends prompt to the session's process and returns the full reply.
// onChunk, when non-nil, receives each chunk as it arrives. A reply that the
// backend marked as an error is returned together with ErrResponse.
//
// ctx is checked before the request is sent; a request in flight is not
// aborted.
func (c *Client) Stream(ctx context.Context, sessionID, prompt string, onChunk func(stream.Chunk)) (*stream.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := c.reg.Get(sessionID)
	if err != nil {
		return nil, err
	}

	log := c.log.WithSession(sessionID)
	chunks := stream.NewChunkLogger(log)
	reply := &stream.Reply{}

	err = h.Exchange(func(p *process.AgentProcess) error {
		if err := p.WriteLine(stream.UserMessage(prompt)); err != nil {
			return err
		}
		for {
			line, ok, err := p.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return ErrStreamEnded
			}

			f, err := stream.Decode(line)
			if err != nil {
				log.Warn("skipping undecodable line", map[string]any{
					"error": err.Error(),
					"bytes": len(line),
				})
				continue
			}
			for _, ch := range f.Chunks {
				chunks.Log(ch)
				reply.Chunks = append(reply.Chunks, ch)
				if onChunk != nil {
					onChunk(ch)
				}
			}
			if f.Final {
				reply.Result = f.Result
				reply.Subtype = f.Subtype
				reply.IsError = f.IsError
				reply.Usage = f.Usage
				chunks.LogUsage(f.Usage)
				return nil
			}
		}
	})
	if err != nil {
		return reply, fmt.Errorf("exchange with session %s: %w", sessionID, err)
	}
	if reply.IsError {
		return reply, fmt.Errorf("%w: %s: %s", ErrResponse, reply.Subtype, reply.Result)
	}
	return reply, nil
}

// Complete sends prompt and returns the response as one text blob: the
// backend's result text, or the concatenated assistant text when the result
// is empty. Tool calls in the response are not reported.
func (c *Client) Complete(ctx context.Context, sessionID, prompt string) (string, *stream.Usage, error) {
	reply, err := c.Stream(ctx, sessionID, prompt, nil)
	if err != nil {
		return "", nil, err
	}
	text := reply.Result
	if text == "" {
		text = reply.Text()
	}
	return text, reply.Usage, nil
}
