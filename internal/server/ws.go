package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/boardsync/internal/broadcast"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/prudhvinik1/boardsync/internal/presence"
	"github.com/prudhvinik1/boardsync/internal/store"
	"github.com/prudhvinik1/boardsync/internal/syncer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway sits behind the app's own origin checks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientOp is one inbound operation from a connected UI. Automated clients
// speak the same protocol through the same pipeline.
type clientOp struct {
	Op        string                   `json:"op"` // create|update|text|delete|delete_selected|select|deselect_all|drag_begin|drag|drag_end|cursor|undo|redo
	Object    *models.WhiteboardObject `json:"object,omitempty"`
	ObjectID  uuid.UUID                `json:"object_id,omitempty"`
	Patch     *models.ObjectPatch      `json:"patch,omitempty"`
	Text      string                   `json:"text,omitempty"`
	Positions map[uuid.UUID][2]float64 `json:"positions,omitempty"`
	X         float64                  `json:"x,omitempty"`
	Y         float64                  `json:"y,omitempty"`
}

// serverMsg is one outbound frame: either an applied remote event or a
// presence snapshot.
type serverMsg struct {
	Kind     string                     `json:"kind"` // event|presence|snapshot
	Event    *models.Event              `json:"event,omitempty"`
	Presence []models.PresenceUser      `json:"presence,omitempty"`
	Objects  []*models.WhiteboardObject `json:"objects,omitempty"`
}

// serveWS runs one collaborative session: a dedicated store, orchestrator,
// presence tracker and broadcast subscription for the connecting client.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	boardID, err := uuid.Parse(chi.URLParam(r, "boardID"))
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	userName := r.URL.Query().Get("name")
	if userName == "" {
		userName = "anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed board=%s: %v", boardID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan serverMsg, 256)
	channel := broadcast.NewChannel(h.redis)
	tracker := presence.NewTracker(h.redis, boardID, userID, userName, h.presenceTTL)

	orch := syncer.New(syncer.Config{
		BoardID:      boardID,
		UserID:       userID,
		Store:        store.New(userID, h.historyDepth),
		Repo:         h.repo,
		Bus:          channel,
		Presence:     tracker,
		MoveThrottle: h.moveThrottle,
		TextThrottle: h.textThrottle,
		OnRemoteApply: func(ev *models.Event) {
			select {
			case outbound <- serverMsg{Kind: "event", Event: ev}:
			default:
				// Slow consumer: drop, positions are absolute.
			}
		},
	})

	sub, err := channel.Subscribe(ctx, boardID)
	if err != nil {
		log.Printf("server: subscribe failed board=%s user=%s: %v", boardID, userID, err)
		return
	}
	defer sub.Close()

	if err := orch.Load(ctx); err != nil {
		log.Printf("server: board load failed board=%s user=%s: %v", boardID, userID, err)
		return
	}
	orch.Start(ctx, sub.Events())
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		if err := orch.Close(leaveCtx); err != nil {
			log.Printf("server: session close failed board=%s user=%s: %v", boardID, userID, err)
		}
	}()

	// Initial snapshot so the client can render without a second round trip.
	// Written before the writer goroutine exists; gorilla permits only one
	// writer at a time, and remote events are already queueing on outbound.
	snapshot := serverMsg{Kind: "snapshot", Objects: orch.Objects(), Presence: tracker.Members()}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	// Writer goroutine: outbound events + periodic presence refresh.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				msg := serverMsg{Kind: "presence", Presence: tracker.Members()}
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var op clientOp
		if err := conn.ReadJSON(&op); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: websocket read failed board=%s user=%s: %v", boardID, userID, err)
			}
			return
		}
		h.applyOp(ctx, orch, op)
	}
}

func (h *Handler) applyOp(ctx context.Context, orch *syncer.Orchestrator, op clientOp) {
	switch op.Op {
	case "create":
		if op.Object != nil {
			orch.CreateObject(ctx, op.Object)
		}
	case "update":
		if op.Patch != nil {
			orch.UpdateObject(ctx, op.ObjectID, *op.Patch)
		}
	case "text":
		orch.UpdateText(ctx, op.ObjectID, op.Text)
	case "delete":
		orch.DeleteObject(ctx, op.ObjectID)
	case "delete_selected":
		orch.DeleteSelected(ctx)
	case "select":
		orch.SelectObject(op.ObjectID)
	case "deselect_all":
		orch.DeselectAll()
	case "drag_begin":
		orch.BeginDrag()
	case "drag":
		orch.DragFrame(op.Positions)
	case "drag_end":
		orch.EndDrag()
	case "cursor":
		orch.MoveCursor(op.X, op.Y)
	case "undo":
		orch.Undo(ctx)
	case "redo":
		orch.Redo(ctx)
	default:
		log.Printf("server: unknown client op %q", op.Op)
	}
}
