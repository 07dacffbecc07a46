// chatclient 是一个终端聊天客户端，用于联调推送与投递流程。
//
//	chatclient -token <jwt> -to 2        # 与用户 2 私聊
//	chatclient -token <jwt> -conversation 7
//
// 输入一行即发送；/read 标记已读，/retry 重发失败的消息，/quit 退出。
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"campus-im/internal/auth"
	"campus-im/internal/client"
	"campus-im/internal/config"
	"campus-im/internal/delivery"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	token := flag.String("token", "", "访问令牌 (默认读取 CLIENT.TOKEN)")
	to := flag.Uint("to", 0, "私聊对象的用户ID")
	conversationID := flag.Uint("conversation", 0, "要打开的会话ID")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, true); err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()

	if *token == "" {
		*token = cfg.Client.Token
	}
	selfID, err := subjectOf(*token)
	if err != nil {
		log.Fatalf("无效的令牌: %v", err)
	}
	if *to == 0 && *conversationID == 0 {
		log.Fatal("需要 -to 或 -conversation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewAPIClient(cfg.Client.APIBaseURL, *token, cfg.Delivery.RequestTimeout)
	push, err := client.NewPushClient(cfg.Client.WSURL, *token, cfg.Delivery)
	if err != nil {
		log.Fatalf("无法创建推送客户端: %v", err)
	}
	session := delivery.NewSession(selfID, push, api, api, delivery.OptionsFromConfig(cfg.Delivery, cfg.Presence.TypingTTL))
	session.OnUnrouted(func(ev imtypes.Event) {
		if ev.Type == imtypes.EventMessageCreated && ev.Message != nil {
			fmt.Printf("[会话 %d] %s: %s\n", ev.ConversationID, ev.Message.SenderName, ev.Message.Content)
		}
	})

	go push.Run(ctx)
	go session.Run(ctx)

	convID := *conversationID
	if convID == 0 {
		conv, err := api.OpenDirect(ctx, *to)
		if err != nil {
			log.Fatalf("无法打开私聊: %v", err)
		}
		convID = conv.ID
	}

	coord, err := session.Open(ctx, convID)
	if err != nil {
		log.Fatalf("无法打开会话 %d: %v", convID, err)
	}
	printer := newPrinter(selfID)
	coord.OnChange(printer.render)
	printer.render(coord.View())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			session.Shutdown(context.Background())
			return
		case line, ok := <-lines:
			if !ok {
				session.Shutdown(context.Background())
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				session.Shutdown(context.Background())
				return
			case line == "/read":
				if err := api.MarkRead(ctx, convID); err != nil {
					fmt.Printf("标记已读失败: %v\n", err)
				}
			case line == "/retry":
				for _, p := range coord.Pending() {
					if p.Status == delivery.PendingFailed {
						if _, err := coord.Retry(ctx, p.LocalID); err != nil {
							fmt.Printf("重发失败: %v\n", err)
						}
					}
				}
			default:
				if _, _, err := coord.Send(ctx, delivery.SendRequest{Content: line}); err != nil {
					fmt.Printf("发送失败 (可 /retry): %v\n", err)
				}
			}
		}
	}
}

// subjectOf 读取令牌中的用户ID。签名由服务端校验，这里不验证。
func subjectOf(token string) (uint, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, err
	}
	if claims.UserID == 0 {
		return 0, fmt.Errorf("令牌中缺少用户ID")
	}
	return claims.UserID, nil
}

// printer 只打印新出现的消息和输入状态变化。
type printer struct {
	selfID uint

	mu      sync.Mutex
	printed map[uint]bool
	typing  string
}

func newPrinter(selfID uint) *printer {
	return &printer{selfID: selfID, printed: make(map[uint]bool)}
}

func (p *printer) render(v delivery.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range v.Messages {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		who := m.SenderName
		if m.SenderID == p.selfID {
			who = "我"
		}
		if m.ReplyTo != nil {
			fmt.Printf("  ↳ 回复 %s: %s\n", m.ReplyTo.SenderName, m.ReplyTo.Content)
		}
		fmt.Printf("%s %s: %s\n", m.CreatedAt.Format("15:04:05"), who, m.Content)
	}

	var names []string
	for _, s := range v.Typing {
		if s.UserID != p.selfID {
			names = append(names, s.UserName)
		}
	}
	typing := strings.Join(names, ", ")
	if typing != p.typing {
		p.typing = typing
		if typing != "" {
			fmt.Printf("(%s 正在输入...)\n", typing)
		}
	}

	for _, pending := range v.Pending {
		if pending.Status == delivery.PendingFailed {
			logger.Log.Debug("pending message failed", zap.String("local_id", pending.LocalID), zap.Error(pending.Err))
		}
	}
}
