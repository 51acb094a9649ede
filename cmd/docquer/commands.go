package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docquer/docquer/internal/config"
)

type conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle"`
	FileName     string    `json:"fileName"`
	MessageIDs   []string  `json:"messageIds"`
	CreatedAt    time.Time `json:"createdAt"`
	FirstMessage string    `json:"firstMessage"`
	Links        []struct {
		Name string `json:"linkName"`
		URL  string `json:"link"`
	} `json:"links"`
}

type chatReply struct {
	Response string `json:"response"`
	Grounded bool   `json:"grounded"`
	Chunks   int    `json:"chunks"`
	Title    string `json:"title"`
}

type ingestReply struct {
	Chunks      int    `json:"chunks"`
	Replaced    bool   `json:"replaced"`
	PurgeFailed bool   `json:"purgeFailed"`
	Warning     string `json:"warning"`
	Link        *struct {
		Name string `json:"linkName"`
	} `json:"link"`
}

type transcript struct {
	Conversation conversation `json:"conversation"`
	Messages     []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
	APIKeySet bool `json:"apiKeySet"`
}

func conversationPath(id string, suffix string) string {
	return "/conversations/" + url.PathEscape(id) + suffix
}

func userPath(user, suffix string) string {
	return "/users/" + url.PathEscape(user) + suffix
}

func withClient(fn func(ctx context.Context, c *apiClient) error) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	return fn(context.Background(), client)
}

// --- conversations ---

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		title, _ := cmd.Flags().GetString("title")
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runNew(ctx, c, os.Stdout, mustUser(userFlag), message, title)
		})
	},
}

func runNew(ctx context.Context, c *apiClient, w io.Writer, user, message, title string) error {
	resp, err := c.post(ctx, "/conversations", map[string]string{
		"username":     user,
		"firstMessage": message,
		"title":        title,
	})
	if err != nil {
		return err
	}
	var conv conversation
	if err := decodeJSON(resp, &conv); err != nil {
		return err
	}
	fmt.Fprintln(w, conv.ID)
	printSuccess("Created %q", conv.Title)
	return nil
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runConversations(ctx, c, os.Stdout, mustUser(userFlag))
		})
	},
}

func runConversations(ctx context.Context, c *apiClient, w io.Writer, user string) error {
	resp, err := c.get(ctx, userPath(user, "/conversations"))
	if err != nil {
		return err
	}
	var convs []conversation
	if err := decodeJSON(resp, &convs); err != nil {
		return err
	}
	if len(convs) == 0 {
		printStep("No conversations yet. Start one with: docquer new")
		return nil
	}
	for _, conv := range convs {
		var sources []string
		if conv.FileName != "" {
			sources = append(sources, conv.FileName)
		}
		for _, l := range conv.Links {
			sources = append(sources, l.Name)
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			conv.ID,
			colorize(labelStyle, conv.Title),
			colorize(dimStyle, fmt.Sprintf("%d messages  %s", len(conv.MessageIDs), strings.Join(sources, ", "))))
	}
	return nil
}

var askCmd = &cobra.Command{
	Use:   "ask <conversation-id> <question>",
	Short: "Ask a question in a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runAsk(ctx, c, os.Stdout, args[0], mustUser(userFlag), mode, strings.Join(args[1:], " "))
		})
	},
}

func runAsk(ctx context.Context, c *apiClient, w io.Writer, id, user, mode, query string) error {
	resp, err := c.post(ctx, conversationPath(id, "/chat"), map[string]string{
		"query":    query,
		"username": user,
		"mode":     mode,
	})
	if err != nil {
		return err
	}
	var reply chatReply
	if err := decodeJSON(resp, &reply); err != nil {
		return err
	}
	if reply.Title != "" {
		printStep("Conversation named %q", reply.Title)
	}
	fmt.Fprintln(w, colorize(answerStyle, reply.Response))
	if reply.Grounded {
		fmt.Fprintln(w, colorize(dimStyle, fmt.Sprintf("answered from %d chunks", reply.Chunks)))
	}
	return nil
}

var uploadCmd = &cobra.Command{
	Use:   "upload <conversation-id> <file>",
	Short: "Attach a document (txt, pdf, docx, pptx, png, jpg) to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runUpload(ctx, c, args[0], filepath.Base(args[1]), data, replace)
		})
	},
}

func runUpload(ctx context.Context, c *apiClient, id, name string, data []byte, replace bool) error {
	printStep("Uploading %s (%d bytes)", name, len(data))
	resp, err := c.upload(ctx, conversationPath(id, "/file"), name, data, replace)
	if err != nil {
		return err
	}
	var res ingestReply
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	reportIngest(res, name)
	return nil
}

var linkCmd = &cobra.Command{
	Use:   "link <conversation-id> <url>",
	Short: "Scrape a web page into a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runAttach(ctx, c, conversationPath(args[0], "/links"), args[1])
		})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <conversation-id> <youtube-url>",
	Short: "Add a YouTube transcript to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runAttach(ctx, c, conversationPath(args[0], "/videos"), args[1])
		})
	},
}

func runAttach(ctx context.Context, c *apiClient, path, rawURL string) error {
	resp, err := c.post(ctx, path, map[string]string{"url": rawURL})
	if err != nil {
		return err
	}
	var res ingestReply
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	name := rawURL
	if res.Link != nil {
		name = res.Link.Name
	}
	reportIngest(res, name)
	return nil
}

func reportIngest(res ingestReply, name string) {
	if res.Warning != "" {
		printWarning("%s", res.Warning)
	}
	if res.PurgeFailed {
		printWarning("previous content could not be fully removed; old passages may still be retrieved")
	}
	if res.Chunks == 0 {
		printWarning("No text found in %s", name)
		return
	}
	verb := "Indexed"
	if res.Replaced {
		verb = "Replaced index with"
	}
	printSuccess("%s %d chunks from %s", verb, res.Chunks, name)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runMessages(ctx, c, os.Stdout, args[0], mustUser(userFlag))
		})
	},
}

func runMessages(ctx context.Context, c *apiClient, w io.Writer, id, user string) error {
	resp, err := c.get(ctx, conversationPath(id, "/messages?username="+url.QueryEscape(user)))
	if err != nil {
		return err
	}
	var tr transcript
	if err := decodeJSON(resp, &tr); err != nil {
		return err
	}
	fmt.Fprintln(w, colorize(labelStyle, tr.Conversation.Title))
	if tr.Conversation.Subtitle != "" {
		fmt.Fprintln(w, colorize(dimStyle, tr.Conversation.Subtitle))
	}
	for _, m := range tr.Messages {
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(labelStyle, m.Sender+":"), m.Text)
	}
	if !tr.APIKeySet {
		printWarning("no LLM API key set; set one with: docquer api-key <key>")
	}
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runDelete(ctx, c, args[0])
		})
	},
}

func runDelete(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.delete(ctx, conversationPath(id, ""))
	if err != nil {
		return err
	}
	var res struct {
		PurgeQueued bool `json:"purgeQueued"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Deleted %s", id)
	if res.PurgeQueued {
		printWarning("vector index removal failed and was queued for retry")
	}
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runStats(ctx, c, mustUser(userFlag))
		})
	},
}

func runStats(ctx context.Context, c *apiClient, user string) error {
	resp, err := c.get(ctx, userPath(user, "/stats"))
	if err != nil {
		return err
	}
	var st struct {
		Conversations []struct {
			MessageCount int `json:"messageCount"`
		} `json:"convData"`
		TotalMessages int `json:"totalMessages"`
		TotalFiles    int `json:"totalFiles"`
	}
	if err := decodeJSON(resp, &st); err != nil {
		return err
	}
	printStatus("Conversations", "%d", len(st.Conversations))
	printStatus("Messages", "%d", st.TotalMessages)
	printStatus("Files", "%d", st.TotalFiles)
	return nil
}

var apiKeyCmd = &cobra.Command{
	Use:   "api-key <key>",
	Short: "Store your LLM API key (empty string clears it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *apiClient) error {
			return runSetAPIKey(ctx, c, mustUser(userFlag), args[0])
		})
	},
}

func runSetAPIKey(ctx context.Context, c *apiClient, user, key string) error {
	resp, err := c.put(ctx, userPath(user, "/api-key"), map[string]string{"apiKey": key})
	if err != nil {
		return err
	}
	var res map[string]any
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if key == "" {
		printSuccess("Cleared API key for %s", user)
	} else {
		printSuccess("Stored API key for %s", user)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s %s\n", colorize(labelStyle, k.Key), k.Value, colorize(dimStyle, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	newCmd.Flags().StringP("message", "m", "", "opening message, used to name the conversation")
	newCmd.Flags().String("title", "", "title to use when none can be generated")
	askCmd.Flags().String("mode", "auto", "auto, plain or document")
	uploadCmd.Flags().Bool("replace", false, "replace the conversation's existing content")
}
