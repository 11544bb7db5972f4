package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thatsimonsguy/room-controller/internal/hass"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var broker, prefix, command, entity, payload string
	var retain bool
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&prefix, "prefix", "homeassistant/statestream", "Statestream topic prefix")
	flag.StringVar(&command, "cmd", "", "Command to run: publish, watch")
	flag.StringVar(&entity, "entity", "", "Entity id for publish, e.g. binary_sensor.bath_motion")
	flag.StringVar(&payload, "payload", "", "State payload for publish, e.g. on, off, 57.5")
	flag.BoolVar(&retain, "retain", false, "Publish with the retained flag, like the real statestream")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of room-debug:")
		fmt.Println("  -broker string\tMQTT broker URL (default 'tcp://localhost:1883')")
		fmt.Println("  -prefix string\tStatestream topic prefix")
		fmt.Println("  -cmd string\tCommand to run: publish, watch")
		fmt.Println("  -entity string\tEntity id for publish")
		fmt.Println("  -payload string\tState payload for publish")
		fmt.Println("  -retain\tPublish with the retained flag")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("room-controller-debug")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		fmt.Printf("Failed to connect to %s: %v\n", broker, token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	var err error
	switch command {
	case "publish":
		err = publish(client, prefix, entity, payload, retain)
	case "watch":
		watch(client, prefix)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

// publish injects a synthetic state change, standing in for what the Home
// Assistant statestream would emit.
func publish(client mqtt.Client, prefix, entity, payload string, retain bool) error {
	if entity == "" || payload == "" {
		return fmt.Errorf("entity and payload are required")
	}
	topic := hass.StateTopic(prefix, entity)
	if topic == "" {
		return fmt.Errorf("malformed entity id %q", entity)
	}
	token := client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	fmt.Printf("Published %q to %s\n", payload, topic)
	return nil
}

// watch prints every state transition under the prefix until interrupted.
func watch(client mqtt.Client, prefix string) {
	sub := prefix + "/#"
	client.Subscribe(sub, 0, func(_ mqtt.Client, msg mqtt.Message) {
		entity, ok := hass.EntityFromStateTopic(prefix, msg.Topic())
		if !ok {
			return
		}
		fmt.Printf("%s  %s = %s\n", time.Now().Format("15:04:05"), entity, string(msg.Payload()))
	})
	fmt.Printf("Watching %s, ctrl-c to stop\n", sub)
	select {}
}
