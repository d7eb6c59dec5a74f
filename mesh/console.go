package mesh

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/gamevidea/meshchat/internal/protocol"
)

var whisperPattern = regexp.MustCompile(`^W (\d+):\s*(.*)$`)

// Prints a lifecycle notice to the terminal.
func banner(format string, args ...any) {
	color.Green(format, args...)
}

// console reads user commands from standard input until it closes or the
// node shuts down: `W <id>:<text>` whispers, `B:<text>` broadcasts and
// `ONLINE` lists the routed destinations.
func (n *Node) console(ctx context.Context) {
	banner("Please write 'W <receiver's number>:' + 'Your message' if you want to whisper, 'B:' + 'Your message' if you want to broadcast, or 'ONLINE' to see online users!")

	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "W "):
			match := whisperPattern.FindStringSubmatch(line)
			if match == nil {
				fmt.Println("Invalid command. Please start your message with 'W:' or 'B:'.")
				continue
			}

			dest, err := strconv.Atoi(match[1])
			if err != nil || dest < 1 || dest > int(protocol.MAX_NODE_ID) {
				fmt.Println("Invalid receiver number.")
				continue
			}

			n.chunker.Whisper(byte(dest), []byte(match[2]))
		case strings.HasPrefix(line, "B:"):
			n.chunker.Broadcast([]byte(strings.TrimPrefix(line, "B:")))
		case strings.HasPrefix(line, "ONLINE"):
			fmt.Println("Nodes in the network: ")
			for _, dest := range n.router.Destinations() {
				banner("%d", dest)
			}
		default:
			fmt.Println("Invalid command. Please start your message with 'W:' or 'B:'.")
		}
	}
}
