// Command eswapctl is the operator CLI fronting a running eswapd's
// ctlapi control surface, following talyz-systemd_exporter's kingpin
// flag style for its own flags and a plain net/http client for talking
// to the daemon (see internal/ctlapi for why no RPC framework from the
// pack is used here).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"eswap/internal/ctlapi"
)

var (
	app  = kingpin.New("eswapctl", "Control a running eswapd instance.")
	addr = app.Flag("addr", "Base URL of the eswapd control API.").Default("http://127.0.0.1:9411").String()

	enableCmd  = app.Command("enable", "Enable the eswap master switch.")
	disableCmd = app.Command("disable", "Disable the eswap master switch (also disables reclaim-in).")

	reclaimInCmd       = app.Command("reclaim-in", "Toggle reclaim-in.")
	reclaimInEnableArg = reclaimInCmd.Arg("state", "on or off").Required().Enum("on", "off")

	watchdogCmd       = app.Command("watchdog", "Toggle the reclaim watchdog.")
	watchdogEnableArg = watchdogCmd.Arg("state", "on or off").Required().Enum("on", "off")

	logLevelCmd = app.Command("log-level", "Set the operator log level.")
	logLevelArg = logLevelCmd.Arg("level", "debug, info, warn, or error").Required().Enum("debug", "info", "warn", "error")

	statusCmd = app.Command("status", "Print eswapd's current configuration and counters.")
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := &http.Client{}
	var err error
	switch cmd {
	case enableCmd.FullCommand():
		err = postToggle(client, "/enable", true)
	case disableCmd.FullCommand():
		err = postToggle(client, "/enable", false)
	case reclaimInCmd.FullCommand():
		err = postToggle(client, "/reclaim-in", *reclaimInEnableArg == "on")
	case watchdogCmd.FullCommand():
		err = postToggle(client, "/watchdog", *watchdogEnableArg == "on")
	case logLevelCmd.FullCommand():
		err = postLogLevel(client, *logLevelArg)
	case statusCmd.FullCommand():
		err = printStatus(client)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "eswapctl:", err)
		os.Exit(1)
	}
}

func postToggle(client *http.Client, path string, enable bool) error {
	body, _ := json.Marshal(ctlapi.ToggleRequest{Enable: enable})
	resp, err := client.Post(*addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return nil
}

func postLogLevel(client *http.Client, level string) error {
	body, _ := json.Marshal(ctlapi.LogLevelRequest{Level: level})
	resp, err := client.Post(*addr+"/log-level", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("log-level: unexpected status %s", resp.Status)
	}
	return nil
}

func printStatus(client *http.Client) error {
	resp, err := client.Get(*addr + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var st ctlapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	fmt.Printf("enabled:            %v\n", st.Enabled)
	fmt.Printf("reclaim-in enabled: %v\n", st.ReclaimInEnabled)
	fmt.Printf("watchdog enabled:   %v\n", st.WatchdogEnabled)
	fmt.Printf("watchdog expire:    %s\n", st.WatchdogExpire)
	fmt.Printf("log level:          %s\n", st.LogLevel)
	fmt.Printf("reclaim-in count:   %d\n", st.ReclaimInCount)
	fmt.Printf("fault-out count:    %d\n", st.FaultOutCount)
	fmt.Printf("stored pages:       %d\n", st.StoredPages)
	return nil
}
