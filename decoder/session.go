package decoder

import (
	"image"

	"github.com/ugparu/hwdec/utils/handle"
	"github.com/ugparu/hwdec/utils/logger"
)

// sessions resolves the token handed to the hardware decoder back to the decoder that owns
// the session. After invalidation a token stays registered among the decoder's last
// retiredTokens tokens, so late callbacks are attributed and counted as stale. Older tokens
// and every token of a closed decoder find nothing.
var sessions = handle.NewTable[*H264]()

const retiredTokens = 8

// onComplete is the completion callback registered with every session.
func onComplete(token uint64, status error, frame image.Image) {
	dec, ok := sessions.Get(token)
	if !ok {
		logger.Tracef("H264_DECODER", "Dropping completion for unknown session token=%d", token)
		return
	}
	dec.complete(token, status, frame)
}

// createSession binds a new session to desc. Any previous session must be torn down first.
func (dec *H264) createSession() error {
	token := sessions.Put(dec)
	sess, err := dec.hw.CreateSession(dec.store.desc, token, onComplete)
	if err != nil {
		sessions.Delete(token)
		return err
	}

	dec.session = sess
	dec.token.Store(token)
	dec.stats.sessionsCreated.Add(1)
	logger.Debugf(dec, "Created session %v token=%d", sess, token)
	return nil
}

// teardownSession invalidates and releases the live session, if any. The token is
// retired before the hardware decoder is asked to invalidate, so completions racing
// with the invalidation are recognized as stale. Once tokenMu is released no completion
// of the old session can reach the dispatcher.
func (dec *H264) teardownSession() {
	if dec.session == nil {
		return
	}

	dec.tokenMu.Lock()
	token := dec.token.Swap(handle.Invalid)
	dec.tokenMu.Unlock()
	dec.retire(token)
	dec.hw.InvalidateSession(dec.session)
	logger.Debugf(dec, "Invalidated session %v token=%d", dec.session, token)

	dec.session = nil
	dec.stats.sessionsInvalidated.Add(1)
}

// retire keeps token resolvable for late callbacks and forgets the oldest retired one.
func (dec *H264) retire(token uint64) {
	dec.retired = append(dec.retired, token)
	if len(dec.retired) > retiredTokens {
		sessions.Delete(dec.retired[0])
		dec.retired = dec.retired[1:]
	}
}

// forgetTokens unregisters every retired token.
func (dec *H264) forgetTokens() {
	for _, token := range dec.retired {
		sessions.Delete(token)
	}
	dec.retired = nil
}

// complete handles one completion. It runs on the callback goroutine and must not take dec.mu:
// hardware decoders are allowed to complete synchronously from inside Submit.
// tokenMu is only held for reads here, so concurrent completions do not serialize.
func (dec *H264) complete(token uint64, status error, frame image.Image) {
	dec.tokenMu.RLock()
	defer dec.tokenMu.RUnlock()

	if dec.token.Load() != token {
		dec.stats.staleCallbacks.Add(1)
		logger.Tracef(dec, "Dropping completion of replaced session token=%d", token)
		return
	}

	if status != nil {
		dec.report(&DecodeError{Err: status})
		return
	}
	if frame == nil {
		logger.Trace(dec, "Decoder completed without an image")
		return
	}

	if !dec.dispatcher.push(frame) {
		dec.report(&DispatchError{QueueSize: dec.cfg.DispatchQueue})
	}
}
