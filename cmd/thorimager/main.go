package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "thorimager.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") && !strings.Contains(errtxt, "cannot find") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `thorimager drives a Thorlabs OCT imager: volume scans, photobleaching,
the scan head camera and ring light, KCube stages and the laser driver.
It can run as an HTTP server or execute one command and exit.

Usage:
	thorimager <command> [flags]

Commands:
	run
	help
	mkconf
	conf
	version
	scan
	bleach
	snap
	ring
	stage
	laser`
	fmt.Println(str)
}

func help() {
	str := `thorimager is amenable to configuration via its .yaml file, thorimager.yml
in the working directory.  For a primer on YAML, see https://yaml.org/start.html
mkconf writes the current configuration, including defaults, to that file.

Set Mock: true to run without hardware.  Without the build tags
spectralradar and kinesis, only the simulated OCT and stages are available.

run serves each device under its Endpoint:
	OCT:   GET /device, POST /scan/volume, POST /photobleach/line,
	       GET /scan/manifest, GET /scan/verify, GET /scan/file,
	       GET /camera/image?fmt=jpg|png|fits, POST /camera/ring-light
	Stage: GET/POST /axis/{axis}/pos, POST /axis/{axis}/home,
	       GET/POST /axis/{axis}/velocity, GET /axis/{axis}/limits,
	       GET/POST /axis/{axis}/lock
	Laser: GET/POST /emission, /current, /tec, /temperature-setpoint,
	       GET /temperature, POST /raw
Every node also has GET/POST /lock and GET /endpoints.

One-shot commands take flags, see thorimager <command> --help:
	scan    --outputDir dir --rangeX 1 --rangeY 1 --sizeX 512 --sizeY 256 ...
	bleach  --xStart 0 --yStart 0 --xEnd 1 --yEnd 0 --duration 10 --repetition 5
	snap    --out image.jpg
	ring    --percent 50
	stage   --axis x [--pos 1.5 [--relative]] [--home]
	laser   --on | --off`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("thorimager version %v\n", Version)
}

func run() {
	c := loadconfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	d, err := OpenDevices(ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(c, d)}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Println("now listening for requests at ", c.Addr)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Println(err)
	}
	if err := d.Close(); err != nil {
		log.Println("closing devices:", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	var err error
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	case "scan":
		err = scan(args[2:])
	case "bleach":
		err = bleach(args[2:])
	case "snap":
		err = snap(args[2:])
	case "ring":
		err = ring(args[2:])
	case "stage":
		err = moveStage(args[2:])
	case "laser":
		err = switchLaser(args[2:])
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		log.Fatal(err)
	}
}
