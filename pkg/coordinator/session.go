// Package coordinator implements the Coordinator Session (spec.md §4.5): a
// reconnecting websocket control-channel client running concurrent
// receive/heartbeat/request-when-idle/finish-notify loops against a single
// connection at a time.
//
// Grounded on original_source/saiblo_client.py for the loop shapes (the
// "gather four coroutines per connection, reconnect on ConnectionClosed"
// structure) and on vvoland-cagent's pkg/audio/transcribe/
// transcribe_darwin.go for the gorilla/websocket dial/read/write usage.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saiblo/judge-worker/pkg/scheduler"
	"github.com/saiblo/judge-worker/pkg/task"
)

const (
	heartbeatInterval = 3 * time.Second
	idleCheckInterval = 1 * time.Second
	reconnectDelay    = 1 * time.Second
)

// frame is the wire envelope for every control-channel message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type initData struct {
	Description string `json:"description"`
	Address     string `json:"address"`
}

type requestJudgeTaskData struct {
	Queue int `json:"queue"`
}

type finishJudgeTaskData struct {
	MatchID string `json:"match_id"`
}

type compilationTaskData struct {
	CodeID string `json:"code_id"`
}

type judgeTaskData struct {
	MatchID string `json:"match_id"`
	Players []struct {
		CodeID string `json:"code_id"`
	} `json:"players"`
}

// Session is the reconnecting control-channel client.
type Session struct {
	url       string
	name      string
	scheduler *scheduler.Scheduler

	buildTaskFactory *task.BuildTaskFactory
	judgeTaskFactory *task.JudgeTaskFactory

	// finishes carries completed JudgeTasks from the single long-lived
	// drain goroutine (started once, outliving any one connection) to
	// whichever connection's finish-notify loop is currently live. A
	// frame send failure pushes the task back so the next connection
	// retries it, instead of losing the notification on reconnect.
	finishes chan *task.JudgeTask
}

// New builds a Session that dials url, identifies as name in the init
// frame, and schedules tasks it decodes onto sched using the given
// factories.
func New(
	url, name string,
	sched *scheduler.Scheduler,
	buildTaskFactory *task.BuildTaskFactory,
	judgeTaskFactory *task.JudgeTaskFactory,
) *Session {
	return &Session{
		url:              url,
		name:             name,
		scheduler:        sched,
		buildTaskFactory: buildTaskFactory,
		judgeTaskFactory: judgeTaskFactory,
		finishes:         make(chan *task.JudgeTask, 64),
	}
}

// Start runs the reconnect loop until ctx is cancelled. Every connection
// closure is silently retried after a short delay, per spec.md §4.5.
func (s *Session) Start(ctx context.Context) {
	go s.drainDone(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runConnection(ctx); err != nil {
			slog.Warn("control channel connection dropped", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// drainDone pops finished tasks off the scheduler for the session's whole
// lifetime, independent of any single connection, and forwards JudgeTasks
// to whichever connection's finish-notify loop is currently draining
// s.finishes.
func (s *Session) drainDone(ctx context.Context) {
	for {
		doneCh := make(chan scheduler.Task, 1)
		go func() { doneCh <- s.scheduler.PopDoneTask() }()

		select {
		case <-ctx.Done():
			return
		case t := <-doneCh:
			if jt, ok := t.(*task.JudgeTask); ok {
				s.finishes <- jt
			}
		}
	}
}

// runConnection dials once, sends init, and runs the inner loops until the
// connection drops or ctx is cancelled.
func (s *Session) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial control channel: %w", err)
	}
	defer conn.Close()

	slog.Info("control channel connected", "url", s.url)

	if err := s.sendInit(conn); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gate := newJudgeTaskGate()

	errCh := make(chan error, 4)

	go func() { errCh <- s.receiveLoop(connCtx, conn, gate) }()
	go func() { errCh <- s.heartbeatLoop(connCtx, conn) }()
	go func() { errCh <- s.requestLoop(connCtx, conn, gate) }()
	go func() { errCh <- s.finishNotifyLoop(connCtx, conn) }()

	err = <-errCh
	cancel()
	return err
}

func (s *Session) sendInit(conn *websocket.Conn) error {
	return writeFrame(conn, "init", initData{Description: s.name, Address: ""})
}

// receiveLoop decodes inbound frames and schedules the corresponding task.
func (s *Session) receiveLoop(ctx context.Context, conn *websocket.Conn, gate *judgeTaskGate) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			slog.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case "compilation_task":
			var data compilationTaskData
			if err := json.Unmarshal(f.Data, &data); err != nil {
				slog.Warn("discarding malformed compilation_task frame", "error", err)
				continue
			}
			s.scheduler.Schedule(s.buildTaskFactory.Create(data.CodeID))

		case "judge_task":
			var data judgeTaskData
			if err := json.Unmarshal(f.Data, &data); err != nil {
				slog.Warn("discarding malformed judge_task frame", "error", err)
				continue
			}
			gate.Notify()

			codeIDs := make([]string, len(data.Players))
			for i, p := range data.Players {
				codeIDs[i] = p.CodeID
			}
			s.scheduler.Schedule(s.judgeTaskFactory.Create(data.MatchID, codeIDs))

		default:
			slog.Debug("ignoring unknown frame type", "type", f.Type)
		}
	}
}

// heartbeatLoop sends a heart_beat frame every heartbeatInterval.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := writeFrame(conn, "heart_beat", nil); err != nil {
				return fmt.Errorf("send heart_beat: %w", err)
			}
		}
	}
}

// requestLoop implements the "at-most-one outstanding request" backpressure
// gate: while the scheduler is busy it polls; once idle it requests a judge
// task and blocks until the receive loop reports one arrived.
func (s *Session) requestLoop(ctx context.Context, conn *websocket.Conn, gate *judgeTaskGate) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !s.scheduler.Idle() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleCheckInterval):
			}
			continue
		}

		gate.Arm()

		if err := writeFrame(conn, "request_judge_task", requestJudgeTaskData{Queue: 0}); err != nil {
			return fmt.Errorf("send request_judge_task: %w", err)
		}

		if err := gate.Wait(ctx); err != nil {
			return err
		}
	}
}

// finishNotifyLoop relays completed JudgeTasks (fed by the session-wide
// drainDone goroutine) to the coordinator over this connection. A frame
// send failure pushes the task back onto s.finishes before returning, so
// the next connection's loop retries the notification.
func (s *Session) finishNotifyLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jt := <-s.finishes:
			if err := writeFrame(conn, "finish_judge_task", finishJudgeTaskData{MatchID: jt.MatchID()}); err != nil {
				s.finishes <- jt
				return fmt.Errorf("send finish_judge_task: %w", err)
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frameType string, data any) error {
	f := frame{Type: frameType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s data: %w", frameType, err)
		}
		f.Data = raw
	}
	return conn.WriteJSON(f)
}
