package oct

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/snksoft/crc"
	yaml "gopkg.in/yaml.v2"
)

// ManifestFilename is the name of the manifest written with each volume
const ManifestFilename = "manifest.yml"

var crcTable = crc.NewTable(crc.CRC32)

// FrameRecord describes one frame file of a volume
type FrameRecord struct {
	Name  string `json:"name" yaml:"name"`
	Y     int    `json:"y" yaml:"y"`
	B     int    `json:"b" yaml:"b"`
	CRC32 uint32 `json:"crc32" yaml:"crc32"`
}

// Manifest describes a volume written to disk
type Manifest struct {
	Created  time.Time     `json:"created" yaml:"created"`
	Elapsed  float64       `json:"elapsedSeconds" yaml:"elapsedSeconds"`
	Device   DeviceProfile `json:"device" yaml:"device"`
	ProbeIni string        `json:"probeIni" yaml:"probeIni"`
	Chirp    string        `json:"chirp" yaml:"chirp"`
	Scan     VolumeScan    `json:"scan" yaml:"scan"`
	Frames   []FrameRecord `json:"frames" yaml:"frames"`

	// OCTFile is the name of the ThorImageOCT file, if one was written
	OCTFile string `json:"octFile,omitempty" yaml:"octFile,omitempty"`
}

// Has returns true if name is a frame of the volume
func (m Manifest) Has(name string) bool {
	for _, f := range m.Frames {
		if f.Name == name {
			return true
		}
	}
	return false
}

func newManifest(s *Scanner, v VolumeScan, start time.Time) *Manifest {
	return &Manifest{
		Created:  start.UTC(),
		Device:   s.profile,
		ProbeIni: s.probeIni,
		Chirp:    s.chirpPath,
		Scan:     v,
	}
}

func (m *Manifest) write(dir string) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), b, 0o644)
}

// ReadManifest reads the manifest of the volume in dir
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(b, &m)
	return m, err
}

// Verify recomputes the checksum of every frame in the manifest and returns
// the names of those which do not match
func (m Manifest) Verify(dir string) ([]string, error) {
	var bad []string
	for _, f := range m.Frames {
		sum, err := fileCRC32(filepath.Join(dir, f.Name))
		if err != nil {
			return bad, err
		}
		if sum != f.CRC32 {
			bad = append(bad, f.Name)
		}
	}
	return bad, nil
}

func fileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sum := crcTable.InitCrc()
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		sum = crcTable.UpdateCrc(sum, buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return crcTable.CRC32(sum), nil
}
