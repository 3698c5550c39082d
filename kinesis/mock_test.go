package kinesis

import (
	"errors"
	"testing"
	"time"
)

func TestMockOpenUnknownSerial(t *testing.T) {
	m := NewMock(27504851)
	err := m.Open(1)
	var e Error
	if !errors.As(err, &e) || e.Code != 2 {
		t.Errorf("expected FT_DeviceNotFound, got %v", err)
	}
}

func TestMockMoveQueuesMoved(t *testing.T) {
	m := NewMock(27504851)
	m.MoveDuration = time.Millisecond
	if err := m.Open(27504851); err != nil {
		t.Fatal(err)
	}
	if err := m.MoveToPosition(34304); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	msg, ok, err := m.NextMessage()
	if err != nil || !ok {
		t.Fatalf("expected a message, got ok=%v err=%v", ok, err)
	}
	if !msg.Is(GenericMotor, Moved) {
		t.Errorf("expected GenericMotor/Moved, got %+v", msg)
	}
	if err := m.RequestPosition(); err != nil {
		t.Fatal(err)
	}
	if pos, _ := m.Position(); pos != 34304 {
		t.Errorf("expected position 34304, got %d", pos)
	}
}

func TestMockHomeQueuesHomed(t *testing.T) {
	m := NewMock(27004989)
	m.MoveDuration = 0
	m.Open(27004989)
	m.SetPositionUnits(1000)
	m.Home()
	msg, ok, _ := m.NextMessage()
	if !ok || !msg.Is(GenericMotor, Homed) {
		t.Errorf("expected GenericMotor/Homed, got %+v ok=%v", msg, ok)
	}
}

func TestErrorText(t *testing.T) {
	if s := (Error{Code: 37}).Error(); s != "kinesis: 37 - TL_UNHOMED" {
		t.Errorf("unexpected error text %q", s)
	}
}
