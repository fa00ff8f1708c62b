package parse

import (
	"regexp"
	"strings"

	"github.com/lightwatcher/lightwatcher/internal/framer"
	"github.com/lightwatcher/lightwatcher/internal/model"
)

// StatusStart never matches a real daemon line: a "show status" reply has
// no repeating start marker, it is bounded solely by StatusStop.
var StatusStart = regexp.MustCompile(`^EOF$`)

// StatusStop matches the status-terminator line that ends a "show status" reply.
var StatusStop = regexp.MustCompile(`^0013 `)

// Status parses the single block a "show status" reply produces.
func Status(block framer.Block) model.BirdStatus {
	var status model.BirdStatus

	for _, line := range block {
		switch {
		case strings.HasPrefix(line, "0001 "):
			tokens := strings.Fields(line)
			if len(tokens) > 2 {
				status.Version = tokens[2]
			}
		case strings.HasPrefix(line, "1011-"):
			tokens := strings.Fields(line)
			if len(tokens) > 0 {
				status.RouterID = tokens[len(tokens)-1]
			}
		case strings.HasPrefix(line, " Current server time is "):
			status.CurrentServer = strings.TrimPrefix(line, " Current server time is ")
		case strings.HasPrefix(line, " Last reboot on "):
			status.LastReboot = strings.TrimPrefix(line, " Last reboot on ")
		case strings.HasPrefix(line, " Last reconfiguration on "):
			status.LastReconfig = strings.TrimPrefix(line, " Last reconfiguration on ")
		case strings.HasPrefix(line, "0013 "):
			status.Message = strings.TrimPrefix(line, "0013 ")
		}
	}

	return status
}
