package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/generichttp/ascii"
	"github.com/yolab/thorimager/generichttp/laser"
	"github.com/yolab/thorimager/generichttp/motion"
	"github.com/yolab/thorimager/generichttp/scanner"
	"github.com/yolab/thorimager/generichttp/thermal"
	"github.com/yolab/thorimager/imgrec"
	"github.com/yolab/thorimager/kinesis"
	"github.com/yolab/thorimager/oct"
	"github.com/yolab/thorimager/server/middleware/locker"
	"github.com/yolab/thorimager/spectralradar"
	"github.com/yolab/thorimager/stage"
	"github.com/yolab/thorimager/thorlabs"
	"github.com/yolab/thorimager/util"
)

// Autowrite configures saving of camera frames served over HTTP
type Autowrite struct {
	Enabled bool   `koanf:"enabled" yaml:"Enabled"`
	Root    string `koanf:"root" yaml:"Root"`
	Prefix  string `koanf:"prefix" yaml:"Prefix"`
}

// OCTSetup configures the OCT scanner node
type OCTSetup struct {
	// Endpoint is the URL stem the scanner is served at
	Endpoint string `koanf:"endpoint" yaml:"Endpoint"`

	// ProbeIni is the probe configuration file loaded at startup
	ProbeIni string `koanf:"probeini" yaml:"ProbeIni"`

	// ChirpPath is the chirp calibration copied next to raw volumes
	ChirpPath string `koanf:"chirppath" yaml:"ChirpPath"`

	// MockDevice is the device type reported by the simulated base unit
	MockDevice string `koanf:"mockdevice" yaml:"MockDevice"`

	// LaserDuringBleach switches the laser driver on for each photobleach
	LaserDuringBleach bool `koanf:"laserduringbleach" yaml:"LaserDuringBleach"`

	Autowrite Autowrite `koanf:"autowrite" yaml:"Autowrite"`
}

// StageSetup configures the stage node
type StageSetup struct {
	Enabled  bool   `koanf:"enabled" yaml:"Enabled"`
	Endpoint string `koanf:"endpoint" yaml:"Endpoint"`

	// Axes are the axes to open, each must be in the stage table
	Axes []string `koanf:"axes" yaml:"Axes"`

	// MoveTimeout bounds each move, in seconds
	MoveTimeout float64 `koanf:"movetimeout" yaml:"MoveTimeout"`

	// PollInterval is the controller status polling interval, in seconds
	PollInterval float64 `koanf:"pollinterval" yaml:"PollInterval"`

	// Limits are software limits on the position of each axis, in mm
	Limits map[string]util.Limiter `koanf:"limits" yaml:"Limits"`
}

// LaserSetup configures the laser driver node
type LaserSetup struct {
	Enabled  bool   `koanf:"enabled" yaml:"Enabled"`
	Endpoint string `koanf:"endpoint" yaml:"Endpoint"`

	// Serial selects the instrument when more than one is attached
	Serial string `koanf:"serial" yaml:"Serial"`
}

// Config is a struct that holds the initialization parameters for the server
// and one-shot commands
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"Addr"`

	// Mock replaces every device with a simulation
	Mock bool `koanf:"mock" yaml:"Mock"`

	OCT   OCTSetup   `koanf:"oct" yaml:"OCT"`
	Stage StageSetup `koanf:"stage" yaml:"Stage"`
	Laser LaserSetup `koanf:"laser" yaml:"Laser"`
}

// DefaultConfig is the configuration used when there is no file
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		OCT: OCTSetup{
			Endpoint:   "oct",
			ProbeIni:   "Probe.ini",
			ChirpPath:  oct.DefaultChirpPath,
			MockDevice: "Ganymede",
			Autowrite:  Autowrite{Prefix: "cam"},
		},
		Stage: StageSetup{
			Endpoint:     "stage",
			Axes:         []string{"x", "y", "z"},
			MoveTimeout:  stage.DefaultMoveTimeout.Seconds(),
			PollInterval: stage.DefaultPollInterval.Seconds(),
			Limits:       map[string]util.Limiter{},
		},
		Laser: LaserSetup{Endpoint: "laser"},
	}
}

// openOCT opens the OCT base unit, or a simulation of it.  sw, if not nil,
// is switched on for each photobleach.
func openOCT(c Config, sw thorlabs.Switcher) (*oct.Scanner, error) {
	var dev spectralradar.Device
	if c.Mock {
		dev = spectralradar.NewMock(c.OCT.MockDevice)
	} else {
		sdk, err := openSpectralRadar()
		if err != nil {
			return nil, err
		}
		dev = sdk
	}
	opts := []oct.Option{oct.WithChirpPath(c.OCT.ChirpPath)}
	if sw != nil {
		opts = append(opts, oct.WithLaser(sw))
	}
	return oct.Init(dev, c.OCT.ProbeIni, opts...)
}

// openStages opens every configured axis
func openStages(ctx context.Context, c Config) (*stage.Controller, error) {
	newDev := func(axis string) kinesis.Device {
		if c.Mock {
			return kinesis.NewMock(stage.SerialNumber(axis))
		}
		return newKCube()
	}
	if !c.Mock && !kinesisAvailable {
		return nil, errKinesisUnavailable
	}
	opts := []stage.Option{}
	if c.Stage.PollInterval > 0 {
		opts = append(opts, stage.WithPollInterval(util.SecsToDuration(c.Stage.PollInterval)))
	}
	return stage.Open(ctx, newDev, c.Stage.Axes, util.SecsToDuration(c.Stage.MoveTimeout), opts...)
}

// openLaser opens the laser driver.  If several are attached and no serial is
// configured, choose is asked to pick one.
func openLaser(c Config, choose thorlabs.Chooser) (*thorlabs.TL4000, error) {
	if c.Mock {
		return thorlabs.NewMock(), nil
	}
	rs, err := thorlabs.Find()
	if err != nil {
		return nil, err
	}
	if c.Laser.Serial != "" {
		choose = chooseSerial(c.Laser.Serial)
	}
	r, err := thorlabs.Select(rs, choose)
	if err != nil {
		return nil, err
	}
	tl := thorlabs.Open(r)
	id, err := tl.Identify()
	if err != nil {
		tl.Close()
		return nil, err
	}
	log.Printf("laser driver %s %s S/N %s firmware %s\n", id.Manufacturer, id.Model, id.Serial, id.Firmware)
	return tl, nil
}

// chooseSerial picks the resource with the given serial number
func chooseSerial(serial string) thorlabs.Chooser {
	return func(rs []thorlabs.Resource) (int, error) {
		for i, r := range rs {
			if r.Serial == serial {
				return i, nil
			}
		}
		return -1, fmt.Errorf("no instrument with S/N %s", serial)
	}
}

// promptChooser lists the resources on out and reads the index of one from in
func promptChooser(in io.Reader, out io.Writer) thorlabs.Chooser {
	return func(rs []thorlabs.Resource) (int, error) {
		for i, r := range rs {
			fmt.Fprintf(out, "%d\t%s\n", i+1, r)
		}
		fmt.Fprintf(out, "select an instrument [1-%d]: ", len(rs))
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return -1, fmt.Errorf("%w: %q", thorlabs.ErrInvalidSelection, strings.TrimSpace(line))
		}
		return n - 1, nil
	}
}

// node is one device mounted on the mux
type node struct {
	endpoint   string
	httper     generichttp.HTTPer
	middleware []func(http.Handler) http.Handler
	lock       locker.ManipulableLock
}

// Devices holds the open devices, so they can be closed on shutdown
type Devices struct {
	Scanner *oct.Scanner
	Stages  *stage.Controller
	Laser   *thorlabs.TL4000
}

// Close closes every open device
func (d Devices) Close() error {
	var errs []error
	if d.Scanner != nil {
		errs = append(errs, d.Scanner.Close())
	}
	if d.Stages != nil {
		errs = append(errs, d.Stages.Close())
	}
	if d.Laser != nil {
		errs = append(errs, d.Laser.Close())
	}
	return errors.Join(errs...)
}

// OpenDevices opens every device the configuration asks for.  If one fails,
// those already opened are closed.
func OpenDevices(ctx context.Context, c Config) (Devices, error) {
	d := Devices{}
	var sw thorlabs.Switcher
	if c.Laser.Enabled || c.OCT.LaserDuringBleach {
		tl, err := openLaser(c, nil)
		if err != nil {
			return d, fmt.Errorf("opening laser: %w", err)
		}
		d.Laser = tl
		if c.OCT.LaserDuringBleach {
			sw = tl
		}
	}
	s, err := openOCT(c, sw)
	if err != nil {
		return d, errors.Join(fmt.Errorf("opening OCT: %w", err), d.Close())
	}
	d.Scanner = s
	if c.Stage.Enabled {
		st, err := openStages(ctx, c)
		if err != nil {
			return d, errors.Join(fmt.Errorf("opening stages: %w", err), d.Close())
		}
		d.Stages = st
	}
	return d, nil
}

// BuildMux mounts each open device under its endpoint on a chi router.
// Every node has its own lock.  The mux serves a special route, /endpoints,
// which returns the routes of every node as JSON.
func BuildMux(c Config, d Devices) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	nodes := []node{}
	var rec *imgrec.Recorder
	if c.OCT.Autowrite.Root != "" || c.OCT.Autowrite.Enabled {
		rec = &imgrec.Recorder{Root: c.OCT.Autowrite.Root, Prefix: c.OCT.Autowrite.Prefix, Enabled: c.OCT.Autowrite.Enabled}
	}
	if d.Scanner != nil {
		h := scanner.NewHTTPScanner(d.Scanner, rec)
		nodes = append(nodes, node{endpoint: c.OCT.Endpoint, httper: &h, lock: locker.New()})
	}
	if d.Stages != nil {
		h := motion.NewHTTPMotionController(d.Stages)
		limiter := motion.LimitMiddleware{Limits: c.Stage.Limits, Mov: d.Stages}
		limiter.Inject(h)
		nodes = append(nodes, node{
			endpoint:   c.Stage.Endpoint,
			httper:     h,
			middleware: []func(http.Handler) http.Handler{limiter.Check},
			lock:       locker.NewAL(),
		})
	}
	if d.Laser != nil && c.Laser.Enabled {
		h := laser.NewHTTPLaserController(d.Laser)
		ascii.InjectRawComm(h, d.Laser)
		thermal.HTTPController(d.Laser, h.RT())
		nodes = append(nodes, node{endpoint: c.Laser.Endpoint, httper: h, lock: locker.New()})
	}

	for _, n := range nodes {
		// prepare the URL, "oct" => "/oct"
		hndlS := generichttp.SubMuxSanitize(n.endpoint)

		// add the lock middleware
		locker.Inject(n.httper, n.lock)

		// add the endpoints to the graph
		supergraph[hndlS] = n.httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(n.lock.Check)
		r.Use(n.middleware...)
		n.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
