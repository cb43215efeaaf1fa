package main

// board-sim answers the gateway's serial protocol on one end of a serial pair, e.g.
//
//	socat -d -d pty,raw,echo=0,link=/tmp/ttyBOARD pty,raw,echo=0,link=/tmp/ttyUSB-sim
//	go run ./cmd/tools/board-sim -port /tmp/ttyBOARD
//	SERIAL_PORT=/tmp/ttyUSB-sim go run ./cmd/server/gateway
import (
	"errors"
	"flag"
	"math/rand"
	"strings"
	"time"

	"github.com/fisaks/solarbox/internal/link"
	"github.com/fisaks/solarbox/internal/logging"
)

func main() {
	port := flag.String("port", "", "serial device of the simulated board (required)")
	baud := flag.Int("baud", 115200, "baud rate")
	drift := flag.Duration("drift", 30*time.Second, "random walk interval for the readings, 0 disables")
	missing := flag.String("missing", "", "comma separated sensors to report as missing: indoor,outdoor,ina219")
	auto := flag.Bool("auto", false, "start in automatic relay mode")
	restAddr := flag.String("rest", ":8080", "control API listen address, empty disables")
	flag.Parse()

	logging.Init()
	if *port == "" {
		logging.Fatal("-port is required")
	}

	board := NewBoard()
	board.Auto = *auto
	for _, s := range strings.Split(*missing, ",") {
		switch strings.TrimSpace(s) {
		case "indoor":
			board.IndoorMissing = true
		case "outdoor":
			board.OutdoorMissing = true
		case "ina219":
			board.INA219Missing = true
		}
	}

	p, err := link.Open(link.Config{Path: *port, Baud: *baud, ReadTimeout: 200 * time.Millisecond})
	if err != nil {
		logging.Fatal("serial open", "port", *port, "error", err)
	}
	defer p.Close()

	// boot chatter, as printed by the firmware's setup()
	if board.INA219Missing {
		_ = p.Write([]byte("Error: INA219 not found!\n"))
	}
	if board.IndoorMissing || board.OutdoorMissing {
		_ = p.Write([]byte("Error: Not enough DS18B20 sensors found!\n"))
	}

	if *drift > 0 {
		go func() {
			r := rand.New(rand.NewSource(time.Now().UnixNano()))
			for range time.Tick(*drift) {
				board.Drift(r)
			}
		}()
	}
	if *restAddr != "" {
		go func() {
			if err := StartRestAPI(*restAddr, board); err != nil {
				logging.Error("control API stopped", "error", err)
			}
		}()
	}

	logging.Info("Board simulator ready", "port", *port, "baud", *baud)
	serve(p, board)
}

func serve(p *link.Port, board *Board) {
	for {
		line, err := p.ReadLine(time.Now().Add(time.Minute))
		if errors.Is(err, link.ErrReadTimeout) {
			continue
		}
		if err != nil {
			logging.Fatal("serial read", "error", err)
		}
		for _, out := range board.Handle(string(line)) {
			logging.Debug("reply", "command", string(line), "reply", out)
			if err := p.Write([]byte(out + "\n")); err != nil {
				logging.Fatal("serial write", "error", err)
			}
		}
	}
}
