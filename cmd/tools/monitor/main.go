package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/solarbox/internal/logging"
	mymqtt "github.com/fisaks/solarbox/internal/mqtt"
)

func main() {
	var broker, topic string
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.StringVar(&topic, "topic", "solarbox/#", "MQTT topic filter")
	flag.Parse()

	client, err := mymqtt.Connect(broker, "solarbox-monitor", 10*time.Second)
	if err != nil {
		logging.Fatal("connect", "error", err)
	}
	fmt.Printf("Connected to MQTT broker %s, subscribing to %s...\n", broker, topic)

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Println(formatMessage(msg.Topic(), msg.Payload()))
	})
	if token.Wait() && token.Error() != nil {
		logging.Fatal("subscribe", "topic", topic, "error", token.Error())
	}

	// Wait for interrupt
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()
	<-ctx.Done()
	client.Disconnect(200)
}
