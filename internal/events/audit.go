package events

import (
	"io"
	"log"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/natefinch/lumberjack.v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Recorder drains the bus and appends each event as one JSONL record. A single
// goroutine does all writes, which keeps per-correlation ordering intact.
// A failed write must never take the trading core down.
type Recorder struct {
	out    io.WriteCloser
	events <-chan AuditEvent
	unsub  func()

	wg   sync.WaitGroup
	once sync.Once
}

// NewRecorder attaches an audit recorder to the bus, writing rotated JSONL
// files at path.
func NewRecorder(bus *Bus, path string) *Recorder {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	ch, unsub := bus.SubscribeAll(1024)

	r := &Recorder{out: out, events: ch, unsub: unsub}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for ev := range r.events {
		line, err := json.Marshal(ev)
		if err != nil {
			log.Printf("audit: marshal %s failed: %v", ev.Type, err)
			continue
		}
		line = append(line, '\n')
		if _, err := r.out.Write(line); err != nil {
			log.Printf("audit: write failed: %v", err)
		}
	}
}

// Close unsubscribes, drains pending events, and closes the log file.
func (r *Recorder) Close() error {
	r.once.Do(r.unsub)
	r.wg.Wait()
	return r.out.Close()
}
