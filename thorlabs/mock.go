package thorlabs

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// mockInstrument is a TL4000 in memory.  Settings are remembered and
// echoed back by the matching query.
type mockInstrument struct {
	mu    sync.Mutex
	state map[string]string
	out   bytes.Buffer
}

func (m *mockInstrument) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := strings.TrimSpace(string(b))
	handshake := strings.HasPrefix(line, "*CLS;")
	line = strings.TrimPrefix(line, "*CLS;")
	line = strings.TrimSuffix(line, ";:SYSTem:ERRor?")
	var replies []string
	for _, cmd := range strings.Split(line, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if strings.HasSuffix(cmd, "?") {
			replies = append(replies, m.state[strings.TrimSuffix(cmd, "?")])
			continue
		}
		if i := strings.IndexByte(cmd, ' '); i != -1 {
			k, v := cmd[:i], cmd[i+1:]
			m.state[k] = v
		}
	}
	if handshake {
		replies = append(replies, `+0,"No error"`)
	}
	if len(replies) > 0 {
		m.out.WriteString(strings.Join(replies, ";") + "\n")
	}
	return len(b), nil
}

func (m *mockInstrument) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		return 0, io.EOF
	}
	return m.out.Read(b)
}

func (m *mockInstrument) Close() error { return nil }

// NewMock returns a TL4000 backed by a simulated instrument
func NewMock() *TL4000 {
	inst := &mockInstrument{state: map[string]string{
		"*IDN":                            "Thorlabs,ITC4001,M00000000,1.8.0",
		"CALibration:STRing":              `"mock calibration"`,
		"OUTPut1:STATe":                   "0",
		"OUTPut2:STATe":                   "0",
		"SOURce1:CURRent:LEVel:AMPLitude": "0",
		"SOURce2:TEMPerature:SPOint":      "25.000",
		"MEASure:SCALar:TEMPerature":      "25.012",
	}}
	return New(func() (io.ReadWriteCloser, error) { return inst, nil })
}
