package sagent

import (
	"errors"
	"time"

	"webkvm/control"
	"webkvm/sdriver"
	"webkvm/wire"
)

// producer is the state owned by the production goroutine.
type producer struct {
	prev           *sdriver.Frame
	deltasSinceKey int
	seq            uint64
	tick           uint64
	tier           Tier
	width, height  int
	captureErrs    int
}

func (s *Session) produce() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	p := &producer{tier: s.budget.Tier()}
	s.log.Infof("session %s: streaming monitor %d as %s, tier %s", s.ID, s.Monitor, s.Format, p.tier)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.produceOnce(p); err != nil {
			s.log.Warnf("session %s: %v, stopping", s.ID, err)
			s.closeOnce.Do(s.cancel)
			return
		}
	}
}

// produceOnce runs one capture-encode-enqueue pass. Per-frame problems are
// logged and counted; only a stopped driver ends the session.
func (s *Session) produceOnce(p *producer) error {
	if tier := s.budget.Tier(); tier != p.tier {
		s.log.Infof("session %s: tier %s -> %s", s.ID, p.tier, tier)
		p.tier = tier
		s.forceKey.Store(true)
		s.SendControl(control.MustEncode(control.Message{Type: control.MSG_TYPE_TIER, Tier: tier.String()}))
	}
	p.tick++
	if p.tier == TIER_EMERGENCY && p.tick%uint64(s.skip) != 0 {
		return nil
	}

	// the tier budget covers capture and encode
	start := time.Now()
	deadline := start.Add(s.budget.Budget())
	frame, err := s.source.CaptureFrame(s.Monitor)
	if errors.Is(err, sdriver.ErrDriverStopped) {
		return err
	}
	if err != nil {
		s.errors.Add(1)
		if p.captureErrs++; p.captureErrs == 1 || p.captureErrs%100 == 0 {
			s.log.Warnf("session %s: capture monitor %d: %v (%d so far)", s.ID, s.Monitor, err, p.captureErrs)
		}
		return nil
	}

	prepared, err := s.encoder.Prepare(p.tier, frame)
	if err != nil {
		s.errors.Add(1)
		s.log.Errorf("session %s: prepare: %v", s.ID, err)
		return nil
	}

	force := s.forceKey.Swap(false) || s.Format == FORMAT_I420
	det := s.detector.Detect(p.prev, prepared, force, p.deltasSinceKey)
	enc, err := s.encoder.Encode(s.ctx, p.tier, prepared, det, deadline)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.errors.Add(1)
		s.forceKey.Store(true)
		s.log.Errorf("session %s: encode: %v", s.ID, err)
		return nil
	}
	elapsed := time.Since(start)
	s.lastEnc.Store(int64(elapsed))
	s.budget.Observe(elapsed, time.Now())

	p.seq++
	wf := wire.Frame{
		Kind:     enc.Kind,
		Keyframe: enc.Keyframe,
		Encoding: enc.Encoding,
		Width:    uint32(enc.Width),
		Height:   uint32(enc.Height),
		Seq:      p.seq,
		Payload:  enc.Payload,
	}
	data, err := wf.Marshal()
	if err != nil {
		s.errors.Add(1)
		s.log.Errorf("session %s: frame %d: %v", s.ID, p.seq, err)
		return nil
	}

	p.prev = prepared
	if enc.Keyframe {
		p.deltasSinceKey = 0
		s.keyframes.Add(1)
		if enc.FellBack {
			s.fallbacks.Add(1)
			s.log.Debugf("session %s: frame %d over budget, sent direct copy", s.ID, p.seq)
		} else if det.Reason != KEY_REASON_NONE {
			s.log.Tracef("session %s: keyframe %d (%s)", s.ID, p.seq, det.Reason)
		}
	} else {
		p.deltasSinceKey++
	}
	s.produced.Add(1)

	if enc.Width != p.width || enc.Height != p.height {
		p.width, p.height = enc.Width, enc.Height
		s.width.Store(int64(enc.Width))
		s.height.Store(int64(enc.Height))
		s.SendControl(control.MustEncode(s.StreamInfo()))
	}

	out := outFrame{data: data}
	if enc.Kind.Container() {
		out.sample = enc.Payload
	}
	s.enqueue(out)
	return nil
}
