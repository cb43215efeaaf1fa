package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fisaks/solarbox/internal/catalog"
	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/messaging"
	mymqtt "github.com/fisaks/solarbox/internal/mqtt"
	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/google/uuid"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gatewayctl invoke --gateway GATEWAY --op OPERATION [--value VALUE]
  gatewayctl ops    --gateway GATEWAY

Required flags:
  --gateway  (string)   Name of the gateway (MQTT client name)
  --op       (string)   Operation to invoke, e.g. read-solar or set-on-threshold

Optional flags:
  --value    (string)   Decimal value for threshold operations
  --broker   (string)   MQTT broker address (default: tcp://localhost:1883)
  --prefix   (string)   Topic prefix (default: solarbox/GATEWAY)
  --timeout  (duration) How long to wait for the gateway (default: 10s)

`)
}

type options struct {
	gateway string
	op      string
	value   string
	broker  string
	prefix  string
	timeout time.Duration
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (invoke or ops)\n")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd != "invoke" && cmd != "ops" {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}

	var o options
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.StringVar(&o.gateway, "gateway", "", "Gateway name (required)")
	fs.StringVar(&o.op, "op", "", "Operation name")
	fs.StringVar(&o.value, "value", "", "Value for threshold operations")
	fs.StringVar(&o.broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	fs.StringVar(&o.prefix, "prefix", "", "Topic prefix")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "Wait for the gateway")
	fs.Usage = usage
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if err := o.check(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd {
	case "invoke":
		err = invoke(o)
	case "ops":
		err = listOperations(o)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) check(cmd string) error {
	if o.gateway == "" {
		return fmt.Errorf("--gateway is required")
	}
	if o.prefix == "" {
		o.prefix = "solarbox/" + o.gateway
	}
	if cmd != "invoke" {
		return nil
	}
	op, ok := facade.Lookup(o.op)
	if !ok {
		return fmt.Errorf("--op %q is not a known operation", o.op)
	}
	if op.TakesValue && o.value == "" {
		return fmt.Errorf("--value is required for %s", o.op)
	}
	return nil
}

func invoke(o options) error {
	client, err := mymqtt.Connect(o.broker, "gatewayctl", o.timeout)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	id := uuid.NewString()
	cmdTopic := messaging.JoinTopic(o.prefix, "cmd", o.op)
	payload := solarbox.IncomingCommand{ID: id}
	if o.value != "" {
		payload.Value = o.value
	}

	raw, err := mymqtt.Request(client, cmdTopic+"/result", o.timeout,
		func() error {
			return mymqtt.PublishJSON(client, cmdTopic, 1, false, payload, o.timeout)
		},
		func(b []byte) bool {
			var res solarbox.CommandResult
			return json.Unmarshal(b, &res) == nil && res.ID == id
		})
	if err != nil {
		return err
	}

	var res solarbox.CommandResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("result json: %w", err)
	}
	out, _ := json.MarshalIndent(res.Result, "", "  ")
	fmt.Println(string(out))
	if !res.Result.Success {
		return fmt.Errorf("%s failed: %s", o.op, res.Result.Error)
	}
	return nil
}

func listOperations(o options) error {
	client, err := mymqtt.Connect(o.broker, "gatewayctl", o.timeout)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	raw, err := mymqtt.Request(client, messaging.JoinTopic(o.prefix, "catalog"), o.timeout,
		func() error { return nil }, nil)
	if err != nil {
		return err
	}
	var cat catalog.GatewayCatalogMessage
	if err := json.Unmarshal(raw, &cat); err != nil {
		return fmt.Errorf("catalog json: %w", err)
	}
	for _, op := range cat.Operations {
		value := ""
		if op.TakesValue {
			value = " VALUE"
		}
		fmt.Printf("%-28s %-14s %s\n", op.Name+value, op.Command, op.Description)
	}
	return nil
}
