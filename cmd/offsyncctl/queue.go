package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and clear the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items in drain order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, _ := cmd.Flags().GetString("status")
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Queue.ListQueue(ctx, &rpc.ListQueueRequest{Status: store.QueueStatus(st)})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		if len(resp.Items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, it := range resp.Items {
			line := fmt.Sprintf("%-6d p%d %-15s %-10s retries=%d created=%s",
				it.ID, it.Priority, it.Operation, it.Status, it.RetryCount,
				time.UnixMilli(it.CreatedAt).Format(time.RFC3339))
			if it.NextAttemptAt > 0 && it.Status == store.QueuePending {
				line += " next=" + time.UnixMilli(it.NextAttemptAt).Format(time.RFC3339)
			}
			if it.Error != "" {
				line += "  " + it.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queue item, whatever its state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := c.Queue.ClearQueue(ctx); err != nil {
			return err
		}
		fmt.Println("Queue cleared.")
		return nil
	},
}

var queueClearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Drop completed queue items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()
		resp, err := c.Queue.ClearCompleted(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Removed %d completed items.\n", resp.Removed)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List locally stored messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		chat, _ := cmd.Flags().GetString("chat")
		st, _ := cmd.Flags().GetString("status")
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Queue.ListMessages(ctx, &rpc.ListMessagesRequest{ChatID: chat, Status: store.MessageStatus(st)})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		for _, m := range resp.Messages {
			fmt.Printf("%s  %-8s %-12s -> %-12s %s\n",
				time.UnixMilli(m.Timestamp).Format(time.RFC3339), m.Status, m.ChatID, m.ReceiverID, m.Content)
		}
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an action for the next sync",
}

var enqueueMessageCmd = &cobra.Command{
	Use:   "message <text>",
	Short: "Queue a chat message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		chat, _ := cmd.Flags().GetString("chat")
		return enqueue(cmd, payload.Message{
			ChatID:     chat,
			ReceiverID: to,
			Content:    strings.Join(args, " "),
		})
	},
}

var enqueueFriendCmd = &cobra.Command{
	Use:   "friend <user-id>",
	Short: "Queue a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd, payload.FriendRequest{ToID: args[0]})
	},
}

var enqueueProfileCmd = &cobra.Command{
	Use:   "profile <key=value>...",
	Short: "Queue a profile patch; values are parsed as JSON when possible",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args)
		if err != nil {
			return err
		}
		return enqueue(cmd, payload.ProfileUpdate{Fields: fields})
	},
}

var enqueueLocationCmd = &cobra.Command{
	Use:   "location",
	Short: "Queue a location report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		acc, _ := cmd.Flags().GetFloat64("accuracy")
		return enqueue(cmd, payload.LocationUpdate{Latitude: lat, Longitude: lng, Accuracy: acc})
	},
}

func enqueue(cmd *cobra.Command, p payload.Payload) error {
	raw, err := payload.Encode(p)
	if err != nil {
		return err
	}
	ctx, c, done, err := connect(cmd)
	if err != nil {
		return err
	}
	defer done()

	resp, err := c.Queue.Enqueue(ctx, &rpc.EnqueueRequest{Operation: p.Operation(), Payload: raw})
	if err != nil {
		return err
	}
	if jsonFlag {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Queued %s as item %d.\n", p.Operation(), resp.ID)
	return nil
}

func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("field %q: want key=value", a)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		fields[k] = parsed
	}
	return fields, nil
}

func init() {
	queueListCmd.Flags().String("status", "", "only items in this state (pending, processing, completed, failed)")
	messagesCmd.Flags().String("chat", "", "only messages of this chat")
	messagesCmd.Flags().String("status", "", "only messages in this state (pending, syncing, synced, failed)")

	enqueueMessageCmd.Flags().String("to", "", "receiver user id")
	enqueueMessageCmd.Flags().String("chat", "", "chat id")
	enqueueLocationCmd.Flags().Float64("lat", 0, "latitude")
	enqueueLocationCmd.Flags().Float64("lng", 0, "longitude")
	enqueueLocationCmd.Flags().Float64("accuracy", 0, "accuracy in meters")
	_ = enqueueLocationCmd.MarkFlagRequired("lat")
	_ = enqueueLocationCmd.MarkFlagRequired("lng")

	queueCmd.AddCommand(queueListCmd, queueClearCmd, queueClearCompletedCmd)
	enqueueCmd.AddCommand(enqueueMessageCmd, enqueueFriendCmd, enqueueProfileCmd, enqueueLocationCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(enqueueCmd)
}
