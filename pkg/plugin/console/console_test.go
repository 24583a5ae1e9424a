package console

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/simon-go/pkg/ai/stt"
)

func next(t *testing.T, r *Recognizer) stt.Event {
	t.Helper()
	select {
	case e := <-r.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return stt.Event{}
	}
}

func TestLinesBecomeFinals(t *testing.T) {
	is := is.New(t)
	pr, pw := io.Pipe()
	r := New(pr, nil)

	is.NoErr(r.Start(context.Background(), stt.Config{InterimResults: true}))
	is.True(errors.Is(r.Start(context.Background(), stt.Config{}), stt.ErrAlreadyStarted))
	is.Equal(next(t, r).Type, stt.EventStart)

	go pw.Write([]byte("hola Simón\n"))
	interim := next(t, r)
	is.Equal(interim.Text, "hola")
	is.True(!interim.Final)
	final := next(t, r)
	is.Equal(final.Text, "hola Simón")
	is.True(final.Final)

	is.NoErr(r.Stop())
	is.Equal(next(t, r).Type, stt.EventEnd)
	is.NoErr(r.Stop())
	pw.Close()
}

func TestLinesWaitForNextSession(t *testing.T) {
	is := is.New(t)
	pr, pw := io.Pipe()
	r := New(pr, nil)

	_, err := pw.Write([]byte("¿qué hora es?\n"))
	is.NoErr(err)

	// the write returns once the scanner consumed the line; give it time
	// to be queued
	time.Sleep(20 * time.Millisecond)
	is.NoErr(r.Start(context.Background(), stt.Config{}))
	is.Equal(next(t, r).Type, stt.EventStart)
	is.Equal(next(t, r).Text, "¿qué hora es?")
	pw.Close()
}

func TestEOFReportsCaptureError(t *testing.T) {
	is := is.New(t)
	pr, pw := io.Pipe()
	r := New(pr, nil)
	is.NoErr(r.Request(context.Background()))

	is.NoErr(r.Start(context.Background(), stt.Config{}))
	is.Equal(next(t, r).Type, stt.EventStart)
	pw.Close()

	e := next(t, r)
	is.Equal(e.Type, stt.EventError)
	is.Equal(e.Code, stt.CodeAudioCapture)
	is.Equal(next(t, r).Type, stt.EventEnd)
	is.True(errors.Is(r.Request(context.Background()), ErrInputClosed))
}
