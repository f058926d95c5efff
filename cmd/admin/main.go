// The admin viewer opens the store read-only and prints the roster and
// the conversation list. It can run next to a live server; the lock
// guard is bypassed on purpose.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"campus-chat/domain"
	"campus-chat/internal"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

func main() {
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	dbPath := flag.String("db", config.BadgerFilepath, "Path to badger DB")
	flag.Parse()

	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	accounts, conversations, messageCounts, err := load(db)
	if err != nil {
		log.Fatalf("Failed to read store: %v", err)
	}

	color.Bold.Println("Accounts")
	printAccounts(accounts)
	fmt.Println()
	color.Bold.Println("Conversations")
	printConversations(conversations, messageCounts)
}

func load(db *badger.DB) ([]domain.Account, []domain.Conversation, map[string]int, error) {
	var (
		accounts      []domain.Account
		conversations []domain.Conversation
	)
	messageCounts := make(map[string]int)

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte("acct:")); it.ValidForPrefix([]byte("acct:")); it.Next() {
			var account domain.Account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &account)
			}); err != nil {
				return err
			}
			accounts = append(accounts, account)
		}
		for it.Seek([]byte("conv:")); it.ValidForPrefix([]byte("conv:")); it.Next() {
			var conv domain.Conversation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			}); err != nil {
				return err
			}
			conversations = append(conversations, conv)
		}
		for it.Seek([]byte("msg:")); it.ValidForPrefix([]byte("msg:")); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), "msg:")
			convID, _, found := strings.Cut(key, ":")
			if found {
				messageCounts[convID]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].DisplayName < accounts[j].DisplayName })
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})
	return accounts, conversations, messageCounts, nil
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func printAccounts(accounts []domain.Account) {
	table := newTable([]string{"ID", "Display Name", "Email", "Role", "Status", "Last Seen"})
	for _, account := range accounts {
		status := color.Green.Sprint("active")
		if !account.Active {
			status = color.Red.Sprint("suspended")
		}
		lastSeen := "never"
		if !account.LastSeenAt.IsZero() {
			lastSeen = account.LastSeenAt.Format("2006-01-02 15:04")
		}
		table.Append([]string{
			shortID(account.ID.String()),
			account.DisplayName,
			account.Email,
			string(account.Role),
			status,
			lastSeen,
		})
	}
	table.Render()
}

func printConversations(conversations []domain.Conversation, messageCounts map[string]int) {
	table := newTable([]string{"ID", "Name", "Kind", "Encrypted", "Messages", "Last Activity"})
	for _, conv := range conversations {
		name := conv.Name
		if name == "" {
			name = "(unnamed)"
		}
		encrypted := "no"
		if conv.Encrypted() {
			encrypted = color.Yellow.Sprint("yes")
		}
		table.Append([]string{
			shortID(conv.ID.String()),
			name,
			string(conv.Kind),
			encrypted,
			fmt.Sprintf("%d", messageCounts[conv.ID.String()]),
			conv.LastActivityAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
