package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/harunnryd/mcpchat/pkg/transports"
)

type clientConfig struct {
	Server struct {
		Addr   string `mapstructure:"addr"`
		WSPath string `mapstructure:"ws_path"`
	} `mapstructure:"server"`
}

func main() {
	configPath := flag.String("config", "examples/webchat/config.yaml", "")
	host := flag.String("host", "localhost", "")
	rawURL := flag.String("url", "", "full websocket URL, overrides -config and -host")
	flag.Parse()

	target := *rawURL
	if target == "" {
		cfg, err := loadClientConfig(*configPath)
		if err != nil {
			fmt.Println("config error:", err)
			os.Exit(1)
		}
		target = wsURL(*host, cfg.Server.Addr, cfg.Server.WSPath)
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Println("connected:", target)
	fmt.Println("commands: /connect <name> [spec], /disconnect <name>, /quit")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev transports.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			printEvent(ev)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		ev, ok := parseLine(line)
		if !ok {
			fmt.Println("usage: /connect <name> [spec] | /disconnect <name>")
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			fmt.Println("send error:", err)
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func parseLine(line string) (transports.Event, bool) {
	if !strings.HasPrefix(line, "/") {
		return transports.Event{Type: transports.EventUserMessage, Text: line}, true
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/connect":
		if len(fields) < 2 {
			return transports.Event{}, false
		}
		return transports.Event{Type: transports.EventMCPConnect, Name: fields[1], Spec: strings.Join(fields[2:], " ")}, true
	case "/disconnect":
		if len(fields) != 2 {
			return transports.Event{}, false
		}
		return transports.Event{Type: transports.EventMCPDisconnect, Name: fields[1]}, true
	}
	return transports.Event{}, false
}

func printEvent(ev transports.Event) {
	switch ev.Type {
	case transports.EventSession:
		fmt.Println("session:", ev.SessionID)
	case transports.EventMessageStart:
		fmt.Print("assistant> ")
	case transports.EventToken:
		fmt.Print(ev.Text)
	case transports.EventMessageEnd:
		fmt.Println()
	case transports.EventNotification:
		fmt.Println("[info]", ev.Text)
	case transports.EventStep:
		if ev.Step == nil {
			return
		}
		if ev.Step.Phase == "start" {
			fmt.Printf("[tool] %s %s\n", ev.Step.Tool, string(ev.Step.Input))
		} else {
			fmt.Printf("[tool] %s -> %s (%dms)\n", ev.Step.Tool, ev.Step.Output, ev.Step.DurationMS)
		}
	case transports.EventError:
		fmt.Printf("[error] %s (%s)\n", ev.Text, ev.Reason)
	default:
		b, _ := json.Marshal(ev)
		fmt.Println(string(b))
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.ws_path", "/ws")
	var cfg clientConfig
	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func wsURL(host, addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = host + addr
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	return u.String()
}
