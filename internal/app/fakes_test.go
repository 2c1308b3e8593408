// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/calibration"
)

// fakeController records commands and publishes a snapshot for every
// mode change.
type fakeController struct {
	mu      sync.Mutex
	latest  *acquire.Snapshot
	mode    acquire.Mode
	cal     calibration.Vector
	applied []acquire.Command
	subs    []chan *acquire.Snapshot
	seq     uint64
}

func newFakeController() *fakeController {
	return &fakeController{cal: calibration.DefaultVector()}
}

func (f *fakeController) Latest() *acquire.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeController) Mode() acquire.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeController) Calibration() calibration.Vector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cal.Clone()
}

func (f *fakeController) Apply(_ context.Context, cmd acquire.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cmd)
	next, ok := f.mode.Next(cmd)
	if !ok {
		return false
	}
	f.mode = next
	snap := &acquire.Snapshot{Mode: next, Calibration: f.cal.Clone()}
	if next == acquire.Calibrating {
		snap.Progress = &calibration.Progress{Channels: 4, SamplesPerChannel: 5}
	}
	f.publishLocked(snap)
	return true
}

func (f *fakeController) Commands() []acquire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]acquire.Command(nil), f.applied...)
}

func (f *fakeController) Subscribe(buffer int) (<-chan *acquire.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *acquire.Snapshot, buffer)
	f.subs = append(f.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, c := range f.subs {
				if c == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (f *fakeController) publish(s *acquire.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishLocked(s)
}

func (f *fakeController) publishLocked(s *acquire.Snapshot) {
	f.seq++
	s.Seq = f.seq
	f.latest = s
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker is an in-memory mqttClient.
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    []published
	unsubscribed []string
	onPublish    func(p published)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	p := published{topic: topic, qos: qos, retained: retained, payload: data}
	b.mu.Lock()
	b.published = append(b.published, p)
	hook := b.onPublish
	b.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return doneToken{}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
		b.unsubscribed = append(b.unsubscribed, t)
	}
	return doneToken{}
}

// deliver hands payload to the subscriber of topic, reporting whether one
// existed.
func (b *fakeBroker) deliver(topic string, payload []byte) bool {
	b.mu.Lock()
	cb := b.handlers[topic]
	b.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(nil, fakeMessage{topic: topic, payload: payload})
	return true
}

func (b *fakeBroker) messages(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}
