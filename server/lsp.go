package server

import (
	"fmt"
	"path"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/stepvm/demos"
	"github.com/chazu/stepvm/history"
	"github.com/chazu/stepvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "stepvm-lsp"

// Custom notifications sent to the editor.
const (
	NotifyPosition = "stepvm/position"
	NotifyState    = "stepvm/state"
)

// Commands accepted by workspace/executeCommand.
const (
	CommandRun              = "stepvm.run"
	CommandPause            = "stepvm.pause"
	CommandResume           = "stepvm.resume"
	CommandStop             = "stepvm.stop"
	CommandStepInto         = "stepvm.stepInto"
	CommandStepOver         = "stepvm.stepOver"
	CommandStepOut          = "stepvm.stepOut"
	CommandToggleBreakpoint = "stepvm.toggleBreakpoint"
	CommandListDemos        = "stepvm.listDemos"
	CommandHistory          = "stepvm.history"
)

var commands = []string{
	CommandRun, CommandPause, CommandResume, CommandStop,
	CommandStepInto, CommandStepOver, CommandStepOut,
	CommandToggleBreakpoint, CommandListDemos, CommandHistory,
}

// PositionParams is the payload of stepvm/position. Ranges are zero-based
// as everywhere in LSP.
type PositionParams struct {
	Program string         `json:"program"`
	Module  string         `json:"module"`
	Range   protocol.Range `json:"range"`
	Thread  string         `json:"thread"`
	Paused  bool           `json:"paused"`
}

// StateParams is the payload of stepvm/state.
type StateParams struct {
	Program   string `json:"program"`
	State     string `json:"state"`
	Blocked   int    `json:"blocked,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// LspServer bridges editor commands to a Driver and reports run positions
// back as notifications, so the editor can highlight the running step.
type LspServer struct {
	driver  *Driver
	history *history.Store
	log     commonlog.Logger

	mu     deadlock.Mutex
	notify glsp.NotifyFunc

	unsubscribe func()
	handler     protocol.Handler
	server      *glspserver.Server
	version     string
}

// NewLSP creates an LSP server driving d. h may be nil.
func NewLSP(d *Driver, h *history.Store) *LspServer {
	s := &LspServer{
		driver:  d,
		history: h,
		log:     commonlog.GetLogger("stepvm.lsp"),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		WorkspaceExecuteCommand: s.workspaceExecuteCommand,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	s.unsubscribe = d.Subscribe(s.onEvent)
	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Infof("%s initializing", lspName)
	s.setNotify(ctx.Notify)

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commands,
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.setNotify(ctx.Notify)
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.unsubscribe()
	s.driver.Close()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

func (s *LspServer) setNotify(fn glsp.NotifyFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// --- Commands ---

func (s *LspServer) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	s.setNotify(ctx.Notify)
	s.log.Debugf("command %s %v", params.Command, params.Arguments)

	switch params.Command {
	case CommandRun:
		name, err := stringArg(params.Arguments, 0)
		if err != nil {
			return nil, err
		}
		d, err := demos.Lookup(name)
		if err != nil {
			return nil, err
		}
		return nil, s.driver.Start(d.Name, d.Build())
	case CommandPause:
		return nil, s.driver.Pause()
	case CommandResume:
		return nil, s.driver.Resume()
	case CommandStop:
		return nil, s.driver.Stop()
	case CommandStepInto:
		return nil, s.driver.StepInto()
	case CommandStepOver:
		return nil, s.driver.StepOver()
	case CommandStepOut:
		return nil, s.driver.StepOut()
	case CommandToggleBreakpoint:
		uri, err := stringArg(params.Arguments, 0)
		if err != nil {
			return nil, err
		}
		line, err := intArg(params.Arguments, 1)
		if err != nil {
			return nil, err
		}
		return s.driver.ToggleBreakpoint(moduleName(uri), line+1)
	case CommandListDemos:
		return demos.Names(), nil
	case CommandHistory:
		if s.history == nil {
			return []history.Summary{}, nil
		}
		return s.history.Recent(20)
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, args[i])
	}
	return v, nil
}

// intArg accepts JSON numbers, which decode as float64.
func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("argument %d: want number, got %T", i, args[i])
}

// moduleName maps a document URI to the module name programs carry.
func moduleName(uri string) string {
	return path.Base(strings.TrimPrefix(uri, "file://"))
}

// --- Notifications ---

func (s *LspServer) onEvent(ev Event) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify == nil {
		return
	}

	switch ev.Kind {
	case EventPosition, EventPaused:
		if ev.Position == nil {
			return
		}
		go notify(NotifyPosition, positionParams(ev))
	case EventState:
		go notify(NotifyState, StateParams{Program: ev.Program, State: ev.State.String()})
	case EventIdle:
		go notify(NotifyState, StateParams{Program: ev.Program, State: "idle", Blocked: ev.Blocked})
	case EventFinished:
		p := StateParams{Program: ev.Program, State: ev.State.String()}
		if ev.Report != nil {
			p.RunID = ev.Report.RunID
			if ev.Report.Exception != nil {
				p.Exception = ev.Report.Exception.String()
			}
		}
		go notify(NotifyState, p)
	}
}

func positionParams(ev Event) PositionParams {
	return PositionParams{
		Program: ev.Program,
		Module:  ev.Position.Module,
		Range:   toProtocolRange(ev.Position.Range),
		Thread:  ev.Position.ThreadName,
		Paused:  ev.Kind == EventPaused,
	}
}

// toProtocolRange converts a one-based inclusive range to LSP's zero-based
// range with an exclusive end.
func toProtocolRange(r vm.SourceRange) protocol.Range {
	zero := func(n int) protocol.UInteger {
		if n <= 0 {
			return 0
		}
		return protocol.UInteger(n - 1)
	}
	return protocol.Range{
		Start: protocol.Position{Line: zero(r.StartLine), Character: zero(r.StartColumn)},
		End:   protocol.Position{Line: zero(r.EndLine), Character: protocol.UInteger(max(r.EndColumn, 0))},
	}
}
