// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/puppylab/miniagent/pkg/skills"

// Reply is what one turn received from the model: a FinalMessage or a
// ToolCallRequest. The set is closed; callers switch on the concrete type.
type Reply interface {
	isReply()
}

// FinalMessage is an assistant message that ends the turn loop.
type FinalMessage struct {
	Content string
}

// ToolCallRequest asks for one skill invocation. Content is any text the
// model sent alongside the call.
type ToolCallRequest struct {
	CallID    string
	Name      string
	Arguments string
	Content   string
}

func (FinalMessage) isReply()    {}
func (ToolCallRequest) isReply() {}

// Invocation decodes the call into an invocation request.
func (r ToolCallRequest) Invocation() (skills.InvocationRequest, error) {
	return skills.NewInvocationRequest(r.CallID, r.Name, r.Arguments)
}
