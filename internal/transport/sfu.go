package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/observer/dialtone/internal/signal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SFU signaling message types, exchanged over the websocket control channel.
const (
	msgTypeJoin      = "sfu.join"
	msgTypeOffer     = "sfu.offer"
	msgTypeAnswer    = "sfu.answer"
	msgTypeCandidate = "sfu.candidate"
	msgTypeLeave     = "sfu.leave"
)

// sfuMessage is the websocket envelope
type sfuMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Token    string `json:"token"`
	Media    string `json:"media"`
}

type sdpPayload struct {
	Room string `json:"room"`
	SDP  string `json:"sdp"`
}

type candidatePayload struct {
	Room      string `json:"room"`
	Candidate string `json:"candidate"`
}

// SFUConfig configures the SFU client transport.
type SFUConfig struct {
	// URL is the SFU websocket endpoint, e.g. wss://sfu.example.com/ws
	URL string

	// ICEServers passed to the peer connection
	ICEServers []webrtc.ICEServer
}

// SFUTransport connects to a selective forwarding unit over a websocket
// signaling channel and a Pion peer connection. It is the production
// Transport implementation.
type SFUTransport struct {
	config *SFUConfig
	tokens *RoomTokenService
	logger *slog.Logger
}

// NewSFUTransport creates an SFU client transport
func NewSFUTransport(cfg *SFUConfig, tokens *RoomTokenService, logger *slog.Logger) *SFUTransport {
	return &SFUTransport{
		config: cfg,
		tokens: tokens,
		logger: logger.With("component", "sfu-client"),
	}
}

// Connect joins the room: dials the SFU, sends a join with a signed room
// token, then answers the server's offer. The returned session reports
// EventConnected once the peer connection is up.
func (t *SFUTransport) Connect(ctx context.Context, roomID, identity string, media signal.CallType) (Session, error) {
	token, err := t.tokens.Mint(roomID, identity)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial sfu: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: t.config.ICEServers})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &sfuSession{
		id:     uuid.New(),
		roomID: roomID,
		conn:   conn,
		pc:     pc,
		events: newEventHub(),
		fired:  make(map[Event]bool),
		cancel: cancel,
	}
	sess.logger = t.logger.With("room_id", roomID, "identity", identity, "session_id", sess.id)

	if err := sess.setupMedia(media); err != nil {
		sess.Disconnect()
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, _ := json.Marshal(candidate.ToJSON())
		_ = sess.write(msgTypeCandidate, candidatePayload{Room: roomID, Candidate: string(raw)})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			sess.dispatch(EventConnected)
		case webrtc.PeerConnectionStateFailed:
			sess.dispatch(EventFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			sess.dispatch(EventDisconnected)
		}
	})

	if err := sess.write(msgTypeJoin, joinPayload{
		Room:     roomID,
		Identity: identity,
		Token:    token,
		Media:    string(media),
	}); err != nil {
		sess.Disconnect()
		return nil, fmt.Errorf("join room: %w", err)
	}

	go sess.readPump(sessCtx)
	go sess.pingLoop(sessCtx)

	sess.logger.Info("joined sfu room", "media", media)
	return sess, nil
}

// sfuSession is one media session against the SFU
type sfuSession struct {
	id     uuid.UUID
	roomID string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pc      *webrtc.PeerConnection
	closed  bool

	audioSender *webrtc.RTPSender
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoSender *webrtc.RTPSender
	videoTrack  *webrtc.TrackLocalStaticRTP

	events *eventHub
	fired  map[Event]bool

	logger *slog.Logger
	cancel context.CancelFunc
}

// setupMedia wires outgoing tracks: audio always, video when the initial
// intent is a video call. The video sender exists either way so the camera
// can be enabled later without renegotiating from scratch.
func (s *sfuSession) setupMedia(media signal.CallType) error {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "dialtone",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	audioSender, err := s.pc.AddTrack(audio)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "dialtone",
	)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	videoSender, err := s.pc.AddTrack(video)
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}

	s.mu.Lock()
	s.audioTrack, s.audioSender = audio, audioSender
	s.videoTrack, s.videoSender = video, videoSender
	s.mu.Unlock()

	if media != signal.CallTypeVideo {
		// Audio-only start: video sender stays silent until camera enable
		if err := videoSender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("detach video track: %w", err)
		}
	}
	return nil
}

// readPump processes SFU signaling until the connection drops
func (s *sfuSession) readPump(ctx context.Context) {
	defer s.dispatch(EventDisconnected)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg sfuMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("sfu read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgTypeOffer:
			s.handleOffer(msg.Payload)
		case msgTypeCandidate:
			s.handleCandidate(msg.Payload)
		default:
			s.logger.Debug("ignoring sfu message", "type", msg.Type)
		}
	}
}

// handleOffer answers an SFU offer (initial or renegotiation)
func (s *sfuSession) handleOffer(payload json.RawMessage) {
	var p sdpPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Error("bad offer payload", "error", err)
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		s.logger.Error("set remote description failed", "error", err)
		return
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Error("create answer failed", "error", err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Error("set local description failed", "error", err)
		return
	}

	_ = s.write(msgTypeAnswer, sdpPayload{Room: s.roomID, SDP: answer.SDP})
}

func (s *sfuSession) handleCandidate(payload json.RawMessage) {
	var p candidatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Error("bad candidate payload", "error", err)
		return
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(p.Candidate), &init); err != nil {
		s.logger.Error("bad ice candidate", "error", err)
		return
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		s.logger.Error("add ice candidate failed", "error", err)
	}
}

func (s *sfuSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *sfuSession) write(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(sfuMessage{Type: msgType, Payload: raw})
}

// On registers a lifecycle handler. If the event already fired, the handler
// runs immediately so registration order cannot drop a transition.
func (s *sfuSession) On(event Event, handler func()) {
	s.mu.Lock()
	already := s.fired[event]
	if !already {
		s.events.on(event, handler)
	}
	s.mu.Unlock()

	if already {
		handler()
	}
}

// dispatch fires an event exactly once
func (s *sfuSession) dispatch(event Event) {
	s.mu.Lock()
	if s.fired[event] {
		s.mu.Unlock()
		return
	}
	s.fired[event] = true
	handlers := s.events.fire(event)
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// SetMicrophoneEnabled mutes or unmutes outgoing audio by detaching the
// track from its sender.
func (s *sfuSession) SetMicrophoneEnabled(enabled bool) error {
	s.mu.Lock()
	sender, track := s.audioSender, s.audioTrack
	s.mu.Unlock()

	if sender == nil {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// SetCameraEnabled adds or removes outgoing video.
func (s *sfuSession) SetCameraEnabled(enabled bool) error {
	s.mu.Lock()
	sender, track := s.videoSender, s.videoTrack
	s.mu.Unlock()

	if sender == nil {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// Disconnect leaves the room and closes the peer connection. Idempotent.
func (s *sfuSession) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.write(msgTypeLeave, joinPayload{Room: s.roomID})
	_ = s.conn.Close()
	if err := s.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}
