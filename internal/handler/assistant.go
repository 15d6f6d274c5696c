package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/utils"
	"glata-widget/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AssistantStub is the bundled development backend: it speaks the same
// wire shapes the widget decoder accepts, with scripted replies, so the
// widget can run end-to-end without a real assistant.
type AssistantStub struct {
	cfg config.DevServerConfig
}

func NewAssistantStub(cfg config.DevServerConfig) *AssistantStub {
	return &AssistantStub{cfg: cfg}
}

// Register mounts the stub endpoints under the given group.
func (h *AssistantStub) Register(api gin.IRouter) {
	chat := api.Group("/chat")
	{
		chat.POST("/stream", h.StreamChat)
		chat.POST("", h.Chat)
	}
}

// StreamChat answers over SSE: data: lines, comment heartbeats,
// structured frames after the text and a [DONE] sentinel.
func (h *AssistantStub) StreamChat(c *gin.Context) {
	var env model.RequestEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sse := utils.NewSSEWriter(c.Writer)

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-heartbeat.C:
				if err := sse.Comment("keepalive"); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for _, chunk := range chunkReply(scriptedReply(env.Message)) {
		if ctx.Err() != nil {
			return
		}
		payload, _ := json.Marshal(gin.H{"content": chunk})
		if err := sse.Write(string(payload)); err != nil {
			logger.Warnf("stream write failed: %v", err)
			return
		}
		time.Sleep(h.cfg.ChunkDelay)
	}

	for _, att := range scriptedAttachments(env.Message) {
		payload, _ := json.Marshal(att)
		if err := sse.Write(string(payload)); err != nil {
			logger.Warnf("stream write failed: %v", err)
			return
		}
	}

	sse.Close()
}

// Chat answers the buffered path. Plain replies come back as a single
// JSON object; replies with attachments use the envelope shape whose
// body carries SSE-framed text.
func (h *AssistantStub) Chat(c *gin.Context) {
	var env model.RequestEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply := scriptedReply(env.Message)
	attachments := scriptedAttachments(env.Message)

	if len(attachments) == 0 {
		c.JSON(http.StatusOK, gin.H{"content": reply})
		return
	}

	var body strings.Builder
	payload, _ := json.Marshal(gin.H{"content": reply})
	fmt.Fprintf(&body, "data: %s\n", payload)
	for _, att := range attachments {
		payload, _ := json.Marshal(att)
		fmt.Fprintf(&body, "data: %s\n", payload)
	}
	body.WriteString("data: [DONE]\n")

	c.JSON(http.StatusOK, gin.H{"body": body.String()})
}

func scriptedReply(message string) string {
	lower := strings.ToLower(message)
	switch {
	case message == "":
		return "Hello! How can I help you today?"
	case strings.Contains(lower, "price"):
		return "The **starter** plan is free and the **pro** plan is $12 per month."
	case strings.Contains(lower, "hours"):
		return "Support is available weekdays from 9:00 to 18:00."
	default:
		return fmt.Sprintf("You said: %s\n\nThis is a scripted development reply.", message)
	}
}

// chunkReply splits a reply into small word groups so the streaming
// path looks like a real token stream.
func chunkReply(reply string) []string {
	words := strings.Fields(reply)
	var chunks []string
	for i := 0; i < len(words); i += 3 {
		end := i + 3
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// scriptedAttachments maps keywords in the request to structured
// frames, one per recognized kind.
func scriptedAttachments(message string) []map[string]interface{} {
	lower := strings.ToLower(message)
	var out []map[string]interface{}

	if strings.Contains(lower, "card") && !strings.Contains(lower, "showcase") {
		out = append(out, map[string]interface{}{
			"type": "cards",
			"items": []map[string]interface{}{
				{"title": "Starter", "subtitle": "Free forever"},
				{"title": "Pro", "subtitle": "$12 / month"},
			},
		})
	}
	if strings.Contains(lower, "showcase") {
		out = append(out, map[string]interface{}{
			"type":  "showcase_card",
			"title": "Featured item",
			"image": "https://example.com/featured.png",
		})
	}
	if strings.Contains(lower, "button") {
		out = append(out, map[string]interface{}{
			"type": "cta_buttons",
			"buttons": []map[string]interface{}{
				{"label": "Book a demo", "action": "demo"},
				{"label": "Talk to sales", "action": "sales"},
			},
		})
	}
	return out
}
