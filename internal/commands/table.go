// Package commands is the operator command table: each tag maps to a
// handler and the scope required to run it. The table is fixed at startup.
package commands

import (
	"context"
	"fmt"
	"io"

	"leadengine/platform/apperr"
)

// Scope is the JWT scope an operator needs for a command.
type Scope string

const (
	ScopeManager Scope = "manager"
	ScopeDebug   Scope = "debug"
)

// Args are the optional parameters of a command invocation.
type Args struct {
	LeadID      string `json:"leadId" validate:"omitempty,chatid"`
	Instruction string `json:"instruction" validate:"max=2000"`
	Format      string `json:"format" validate:"omitempty,oneof=leads conversations"`
	Days        int    `json:"days" validate:"min=0,max=90"`
}

// File is a downloadable command result.
type File struct {
	Name        string
	ContentType string
	Write       func(w io.Writer) error
}

// Result is what a command returns: a JSON payload or a file.
type Result struct {
	Payload any
	File    *File
}

type Func func(ctx context.Context, args Args) (Result, error)

// Command is one entry of the table.
type Command struct {
	Tag         string
	Scope       Scope
	NeedsLead   bool
	Description string
	Run         Func
}

// Table resolves command tags.
type Table struct {
	byTag map[string]Command
	order []string
}

// NewTable builds a table, rejecting empty or duplicate tags and commands
// without a handler or scope.
func NewTable(cmds []Command) (*Table, error) {
	t := &Table{byTag: make(map[string]Command, len(cmds))}
	for _, c := range cmds {
		if c.Tag == "" || c.Run == nil {
			return nil, fmt.Errorf("command %q: tag and handler are required", c.Tag)
		}
		if c.Scope != ScopeManager && c.Scope != ScopeDebug {
			return nil, fmt.Errorf("command %q: unknown scope %q", c.Tag, c.Scope)
		}
		if _, dup := t.byTag[c.Tag]; dup {
			return nil, fmt.Errorf("command %q registered twice", c.Tag)
		}
		t.byTag[c.Tag] = c
		t.order = append(t.order, c.Tag)
	}
	return t, nil
}

func (t *Table) Lookup(tag string) (Command, bool) {
	c, ok := t.byTag[tag]
	return c, ok
}

// Commands lists the table in registration order.
func (t *Table) Commands() []Command {
	out := make([]Command, len(t.order))
	for i, tag := range t.order {
		out[i] = t.byTag[tag]
	}
	return out
}

// Execute runs the command for tag. Scope checks are the caller's job.
func (t *Table) Execute(ctx context.Context, tag string, args Args) (Result, error) {
	c, ok := t.Lookup(tag)
	if !ok {
		return Result{}, apperr.NotFound(fmt.Sprintf("unknown command %q", tag))
	}
	if c.NeedsLead && args.LeadID == "" {
		return Result{}, apperr.Validation(fmt.Sprintf("command %q needs a leadId", tag))
	}
	return c.Run(ctx, args)
}
