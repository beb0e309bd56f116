package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/domain/build"
	"github.com/previewkit/kiln/domain/modpath"
)

// Message kinds consumed from the host.
const (
	typeRegister             = "register"
	typeCompile              = "compile"
	typeRefresh              = "refresh"
	typeGetModules           = "get-modules"
	typeGetTranspilerContext = "get-transpiler-context"
)

// Message kinds produced for the host.
const (
	typeConnected         = "connected"
	typeStart             = "start"
	typeStatus            = "status"
	typeDone              = "done"
	typeAction            = "action"
	typeURLChange         = "urlchange"
	typeAllModules        = "all-modules"
	typeTranspilerContext = "transpiler-context"
)

const actionShowError = "show-error"

// The channel is driven from an embedding page, which usually lives on a
// different origin than the preview server.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage is the superset of every message the host may send.
// ChannelID is a pointer so a missing identifier is distinguishable from 0.
type inboundMessage struct {
	Type      string                  `json:"type"`
	ChannelID *int64                  `json:"channelId"`
	Modules   map[string]moduleSource `json:"modules"`
	Options   compileOptions          `json:"options"`
}

// moduleSource is one submitted module. Hosts send either the record form
// {"code": "..."} or a bare string; both decode to the same thing.
type moduleSource struct {
	Code string `json:"code"`
}

func (m *moduleSource) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Code = s
		return nil
	}
	type record moduleSource
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = moduleSource(r)
	return nil
}

type compileOptions struct {
	Target      string `json:"target"`
	Minify      bool   `json:"minify"`
	Development bool   `json:"development"`
}

type connectedMsg struct {
	Type string `json:"type"`
}

type startMsg struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	FirstLoad bool   `json:"firstLoad"`
}

type statusMsg struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	Phase     string `json:"phase"`
}

type doneMsg struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	Failed    bool   `json:"failed"`
}

type actionMsg struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	Action    string `json:"action"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

type urlChangeMsg struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	URL       string `json:"url"`
}

type allModulesMsg struct {
	Type      string            `json:"type"`
	ChannelID int64             `json:"channelId"`
	Modules   map[string]string `json:"modules"`
}

type transpilerContextMsg struct {
	Type      string         `json:"type"`
	ChannelID int64          `json:"channelId"`
	Context   map[string]any `json:"context"`
}

// Channel upgrades the connection and speaks the host protocol until the
// peer disconnects.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error to the peer.
		h.logger.Debug().Err(err).Msg("channel upgrade rejected")
		return
	}
	newChannel(h, conn).run(r.Context())
}

// channel is one host connection. Reads and build-event forwarding run in
// separate goroutines; writeMu serializes their writes to the socket.
type channel struct {
	h      *Handler
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	registered bool
	id         int64
}

func newChannel(h *Handler, conn *websocket.Conn) *channel {
	return &channel{
		h:      h,
		conn:   conn,
		logger: h.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// run announces readiness, then forwards orchestrator events while the read
// loop consumes host messages. It returns when either side closes.
func (c *channel) run(ctx context.Context) {
	defer c.conn.Close()
	defer func() {
		if _, ok := c.registeredID(); ok && c.h.metrics != nil {
			c.h.metrics.ActiveChannels.Dec()
		}
	}()

	c.logger.Debug().Msg("channel opened")
	c.send(typeConnected, connectedMsg{Type: typeConnected})

	events, cancel := c.h.builds.Subscribe()
	defer cancel()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		c.readLoop(ctx)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.forward(ev)
		case <-readerDone:
			c.logger.Debug().Msg("channel closed")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *channel) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(ctx, data)
	}
}

// handle processes one inbound frame. Malformed payloads and messages for
// another channel produce no response of any kind.
func (c *channel) handle(ctx context.Context, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed channel message dropped")
		return
	}
	if msg.Type == "" {
		c.logger.Debug().Msg("untyped channel message dropped")
		return
	}
	c.count("in", msg.Type)

	id, registered := c.registeredID()
	if !registered {
		if msg.Type == typeRegister && msg.ChannelID != nil {
			c.register(*msg.ChannelID)
		}
		return
	}
	if msg.ChannelID == nil || *msg.ChannelID != id {
		c.logger.Debug().Str("type", msg.Type).Msg("foreign channel message dropped")
		return
	}

	switch msg.Type {
	case typeRegister:
		// Re-registering with the same identifier is a no-op.
	case typeCompile:
		c.compile(msg)
	case typeRefresh:
		c.refresh()
	case typeGetModules:
		c.send(typeAllModules, allModulesMsg{
			Type:      typeAllModules,
			ChannelID: id,
			Modules:   c.h.modulesSnapshot(),
		})
	case typeGetTranspilerContext:
		c.send(typeTranspilerContext, transpilerContextMsg{
			Type:      typeTranspilerContext,
			ChannelID: id,
			Context:   map[string]any{},
		})
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("unknown channel message dropped")
	}
}

func (c *channel) register(id int64) {
	c.mu.Lock()
	c.registered = true
	c.id = id
	c.mu.Unlock()

	if c.h.metrics != nil {
		c.h.metrics.ActiveChannels.Inc()
	}
	c.logger.Debug().Int64("channel_id", id).Msg("channel registered")
}

func (c *channel) registeredID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.registered
}

// compile normalizes the submitted module set and enqueues a build. The
// outcome arrives through the event subscription, never synchronously.
func (c *channel) compile(msg inboundMessage) {
	modules := make(map[string]string, len(msg.Modules))
	for p, rec := range msg.Modules {
		modules[modpath.Normalize(p)] = rec.Code
	}
	c.h.setModules(modules)

	jobID := c.h.builds.Submit(build.CompileJob{
		Modules: modules,
		Options: build.Options{
			Target:      msg.Options.Target,
			Minify:      msg.Options.Minify,
			Development: msg.Options.Development,
		},
	})
	c.logger.Debug().Str("job_id", jobID).Int("modules", len(modules)).Msg("compile submitted")
}

// refresh replays the last successful build by pointing the host back at
// the preview document. With no build yet there is nothing to replay.
func (c *channel) refresh() {
	id, ok := c.registeredID()
	if !ok {
		return
	}
	res := c.h.builds.LastResult()
	if res == nil {
		c.logger.Debug().Msg("refresh with no completed build dropped")
		return
	}
	c.send(typeURLChange, urlChangeMsg{Type: typeURLChange, ChannelID: id, URL: previewURL(res)})
}

// forward translates one orchestrator event into channel messages. Queued
// and superseded transitions stay internal; the host only ever observes
// start, status and done for results that were not discarded.
func (c *channel) forward(ev app.Event) {
	id, ok := c.registeredID()
	if !ok {
		return
	}

	switch ev.Kind {
	case app.EventStarted:
		c.send(typeStart, startMsg{Type: typeStart, ChannelID: id, FirstLoad: ev.FirstLoad})
	case app.EventStatus:
		c.send(typeStatus, statusMsg{Type: typeStatus, ChannelID: id, Phase: ev.Phase})
	case app.EventDone:
		if ev.Err != nil {
			// The error details go first so the host has them in hand when
			// the failure flag lands.
			c.send(typeAction, actionMsg{
				Type:      typeAction,
				ChannelID: id,
				Action:    actionShowError,
				Title:     ev.Err.Title,
				Message:   ev.Err.Message,
				File:      ev.Err.File,
				Line:      ev.Err.Line,
				Column:    ev.Err.Column,
			})
			c.send(typeDone, doneMsg{Type: typeDone, ChannelID: id, Failed: true})
			return
		}
		c.send(typeDone, doneMsg{Type: typeDone, ChannelID: id, Failed: false})
		if ev.Result != nil {
			c.send(typeURLChange, urlChangeMsg{Type: typeURLChange, ChannelID: id, URL: previewURL(ev.Result)})
		}
	}
}

func (c *channel) send(msgType string, v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug().Err(err).Str("type", msgType).Msg("channel write failed")
		return
	}
	c.count("out", msgType)
}

func (c *channel) count(direction, msgType string) {
	if c.h.metrics != nil {
		c.h.metrics.ChannelMessages.WithLabelValues(direction, msgType).Inc()
	}
}

// previewURL names the preview document for one build; the fingerprint
// fragment busts iframe caches across rebuilds.
func previewURL(res *build.Result) string {
	v := res.Fingerprint
	if len(v) > 12 {
		v = v[:12]
	}
	return "/preview?v=" + v
}
