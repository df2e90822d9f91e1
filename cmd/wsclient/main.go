// Command wsclient opens a participant session against a running hub, prints every frame
// it receives and acknowledges the ones asking for it. With -to it also submits one offer.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"negotiation-hub/domain/event"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

type Config struct {
	URL     string `env:"WS_URL,default=ws://localhost:8080/ws"`
	Token   string `env:"TOKEN,required=true"`
	Role    string `env:"ROLE"`
	Colours bool   `env:"COLOURS,default=true"`
}

type received struct {
	ID   string          `json:"id"`
	Type event.Type      `json:"type"`
	Ack  bool            `json:"ack"`
	Data json.RawMessage `json:"data"`
}

func main() {
	to := flag.String("to", "", "Receiver id of the offer to submit")
	job := flag.String("job", "", "Correlation id of the job")
	body := flag.String("body", "", "Offer text")
	wage := flag.Float64("wage", 0, "Proposed wage")
	flag.Parse()

	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	target, err := url.Parse(config.URL)
	if err != nil {
		log.Fatalf("Invalid WS_URL: %v", err)
	}
	query := target.Query()
	query.Set("token", config.Token)
	if config.Role != "" {
		query.Set("role", config.Role)
	}
	target.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if *to != "" {
		submit, err := json.Marshal(event.SubmitPayload{
			ReceiverID:    *to,
			CorrelationID: *job,
			Body:          *body,
			ProposedWage:  wage,
		})
		if err != nil {
			log.Fatalf("Encoding offer failed: %v", err)
		}
		frame := event.InboundFrame{ID: uuid.NewString(), Type: event.SubmitType, Data: submit}
		if err = conn.WriteJSON(frame); err != nil {
			log.Fatalf("Submit failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame received
			if err := conn.ReadJSON(&frame); err != nil {
				printLine(config, color.FgRed, "closed", err.Error())
				return
			}
			printLine(config, colourOf(frame.Type), string(frame.Type), string(frame.Data))
			if frame.Ack {
				if err := conn.WriteJSON(event.InboundFrame{ID: frame.ID, Type: event.AckType}); err != nil {
					printLine(config, color.FgRed, "ack", err.Error())
					return
				}
			}
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	select {
	case <-signals:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	case <-done:
	}
}

func colourOf(t event.Type) color.Color {
	switch t {
	case event.ErrorType:
		return color.FgRed
	case event.NegotiationMessageType, event.MatchNotificationType:
		return color.FgGreen
	case event.JobBookedType:
		return color.FgMagenta
	case event.RegisteredType:
		return color.FgCyan
	}
	return color.FgYellow
}

func printLine(config Config, c color.Color, label, data string) {
	header := fmt.Sprintf("  ====== %s ======", label)
	if config.Colours {
		header = color.New(color.BgBlack, c).Render(header)
	}
	fmt.Println(header)
	if data != "" {
		fmt.Println(data)
	}
}
