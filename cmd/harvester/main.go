// Command harvester collects recent messages from public Telegram channels.
package main

func main() {
	Execute()
}
