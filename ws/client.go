package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"coinhouse/config"
	"coinhouse/game"

	"github.com/gorilla/websocket"
)

// Client is one player connection. The session state machine inside it
// is owned exclusively by the run goroutine: readPump and the expiry
// timer only feed it through channels, so no frame and no timeout ever
// races a state transition.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	player  string
	session *game.Session

	send    chan []byte
	inbound chan Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(gateway *Gateway, conn *websocket.Conn, player string) *Client {
	return &Client{
		gateway: gateway,
		conn:    conn,
		player:  player,
		session: game.NewSession(player, config.HouseEdgeBps, config.CommitWindow, config.RevealWindow, gateway.recorder),
		send:    make(chan []byte, config.WSSendQueueSize),
		inbound: make(chan Envelope, 8),
		closed:  make(chan struct{}),
	}
}

// shutdown tears the connection down exactly once. Safe to call from
// any goroutine; the run loop observes closed and does the session
// cleanup itself.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

/* =========================
   READ / WRITE PUMPS
========================= */

func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  Read error for %s: %v", c.player, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(game.CodeValidation, "malformed message envelope")
			continue
		}

		select {
		case c.inbound <- env:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

/* =========================
   SESSION LOOP
========================= */

// run is the session owner. One timer tracks the session deadline; it
// is re-armed after every state transition because each transition
// moves the deadline.
func (c *Client) run() {
	expiry := time.NewTimer(time.Until(c.session.Deadline()))
	defer func() {
		expiry.Stop()
		c.cleanup()
	}()

	for {
		select {
		case env := <-c.inbound:
			c.handle(env)
		case <-expiry.C:
			c.expire()
		case <-c.closed:
			return
		}
		rearm(expiry, c.session.Deadline())
	}
}

func rearm(t *time.Timer, deadline time.Time) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(time.Until(deadline))
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case MsgSubmitCommitment:
		var payload SubmitCommitmentPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError(game.CodeValidation, "malformed submitCommitment payload")
			return
		}
		c.handleCommit(payload)
	case MsgReveal:
		var payload RevealPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError(game.CodeValidation, "malformed reveal payload")
			return
		}
		c.handleReveal(payload)
	case MsgPing:
		c.sendFrame(MsgPong, nil)
	default:
		c.sendError(game.CodeValidation, "unknown message type: "+env.Type)
	}
}

func (c *Client) handleCommit(payload SubmitCommitmentPayload) {
	if payload.Wager < config.MinWagerAmount || payload.Wager > config.MaxWagerAmount {
		c.sendError(game.CodeValidation, "wager outside allowed limits")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()

	round, err := c.session.SubmitCommitment(ctx, payload.Wager, payload.Choice, payload.Commitment)
	if err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
		return
	}

	// The reservation guards player funds while the round is open. Its
	// TTL is the safety net if this process dies before resolution.
	if c.gateway.reserver != nil {
		if err := c.gateway.reserver.ReserveWager(ctx, c.player, round.RoundID, round.Wager); err != nil {
			log.Printf("⚠️  Failed to reserve wager for round %s: %v", round.RoundID, err)
		}
	}

	log.Printf("📋 Round %s committed - Player: %s, Wager: %d", round.RoundID, c.player, round.Wager)
	c.sendFrame(MsgCommitted, CommittedPayload{RoundID: round.RoundID})
}

func (c *Client) handleReveal(payload RevealPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()

	round, err := c.session.Reveal(ctx, payload.Nonce)

	var fairness *game.FairnessViolation
	if errors.As(err, &fairness) {
		// Voided round: funds go back, nothing is settled.
		c.releaseReservation(round.RoundID)
		log.Printf("🚫 Round %s voided: %v", round.RoundID, err)
		c.sendError(game.CodeFairness, err.Error())
		return
	}
	if err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
		return
	}

	c.releaseReservation(round.RoundID)

	if c.gateway.reserver != nil {
		if cerr := c.gateway.reserver.CacheResolvedRound(ctx, round); cerr != nil {
			log.Printf("⚠️  Failed to cache resolved round %s: %v", round.RoundID, cerr)
		}
	}

	// The settlement row was written with the resolution, so this is
	// just the wakeup; a failure here is recovered by the worker's scan.
	if c.gateway.settler != nil {
		if herr := c.gateway.settler.Handoff(ctx, round); herr != nil {
			log.Printf("⚠️  Settlement handoff for round %s failed: %v", round.RoundID, herr)
		}
	}

	log.Printf("💸 Round %s resolved - Outcome: %s, Won: %t, Payout: %d",
		round.RoundID, round.Outcome, round.Won, round.Payout)
	c.sendFrame(MsgResolved, ResolvedPayload{
		RoundID: round.RoundID,
		Outcome: round.Outcome,
		Payout:  round.Payout,
	})
}

func (c *Client) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()

	round, err := c.session.Expire(ctx, time.Now())
	if round == nil {
		// Nothing open: a player idle past the commit window is
		// disconnected instead of being polled forever.
		if !time.Now().Before(c.session.Deadline()) {
			log.Printf("⏰ Idle session for %s lapsed, closing connection", c.player)
			c.shutdown()
		}
		return
	}
	c.releaseReservation(round.RoundID)

	log.Printf("⏰ Round %s expired - Player: %s", round.RoundID, c.player)
	if err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
	}
}

// cleanup runs when the connection dies. An open round is aborted
// immediately rather than left to its deadline, so a disconnect never
// strands a round in awaiting_reveal.
func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()

	if round, _ := c.session.Abort(ctx); round != nil {
		c.releaseReservation(round.RoundID)
		log.Printf("⏰ Round %s aborted on disconnect - Player: %s", round.RoundID, c.player)
	}

	c.gateway.registry.Unregister(c)
}

// releaseReservation releases the hold for one specific round. The
// round id travels with the call so a displaced connection's late
// cleanup cannot free a newer round's reservation.
func (c *Client) releaseReservation(roundID string) {
	if c.gateway.reserver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()
	if err := c.gateway.reserver.ReleaseWager(ctx, c.player, roundID); err != nil {
		log.Printf("⚠️  Failed to release reservation for %s: %v", c.player, err)
	}
}

/* =========================
   OUTBOUND FRAMES
========================= */

func (c *Client) sendFrame(msgType string, payload interface{}) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		log.Printf("❌ Failed to marshal %s frame: %v", msgType, err)
		return
	}

	select {
	case c.send <- data:
	case <-c.closed:
	default:
		// A client that cannot drain its queue is dropped rather than
		// allowed to block the session loop.
		log.Printf("⚠️  Send queue full for %s, dropping connection", c.player)
		c.shutdown()
	}
}

func (c *Client) sendError(code, message string) {
	c.sendFrame(MsgError, ErrorPayload{Code: code, Message: message})
}
