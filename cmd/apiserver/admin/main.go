package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-im/internal/auth"
	"campus-im/internal/config"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin [-config path] migrate                                  - 迁移数据库表结构")
	fmt.Println("  ./admin upsert-user <userID> <username> [nickname]              - 同步一个用户")
	fmt.Println("  ./admin upsert-community <communityID> <name>                   - 同步一个社区")
	fmt.Println("  ./admin add-member <communityID> <userID> [admin|moderator|member] - 设置社区成员")
	fmt.Println("  ./admin token <userID>                                          - 为用户签发开发用令牌")
	fmt.Println("  ./admin show-conversation <conversationID>                      - 显示会话信息")
	fmt.Println("  ./admin list-participants <conversationID>                      - 列出私聊参与者状态")
	fmt.Println("  ./admin list-blocks <userID>                                    - 列出用户屏蔽的人")
}

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	if cfg.Database.Type != "postgres" {
		log.Fatalf("admin 只支持 postgres，当前 DATABASE.TYPE=%s", cfg.Database.Type)
	}
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "migrate":
		if err := storage.AutoMigrateTables(db); err != nil {
			log.Fatalf("迁移失败: %v", err)
		}
		fmt.Println("迁移完成")

	case "upsert-user":
		need(args, 3, "需要指定用户ID和用户名")
		user := models.User{Username: args[2]}
		user.ID = parseID(args[1], "用户ID")
		if len(args) > 3 {
			user.Nickname = args[3]
		}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "nickname", "updated_at"}),
		}).Create(&user).Error
		if err != nil {
			log.Fatalf("保存用户失败: %v", err)
		}
		fmt.Printf("用户 %d (%s) 已保存\n", user.ID, user.Username)

	case "upsert-community":
		need(args, 3, "需要指定社区ID和名称")
		community := models.Community{Name: args[2]}
		community.ID = parseID(args[1], "社区ID")
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(&community).Error
		if err != nil {
			log.Fatalf("保存社区失败: %v", err)
		}
		fmt.Printf("社区 %d (%s) 已保存\n", community.ID, community.Name)

	case "add-member":
		need(args, 3, "需要指定社区ID和用户ID")
		role := models.MemberRole
		if len(args) > 3 {
			role = models.CommunityRole(args[3])
		}
		switch role {
		case models.AdminRole, models.ModeratorRole, models.MemberRole:
		default:
			log.Fatalf("无效的角色: %s", role)
		}
		member := models.CommunityMember{
			CommunityID: parseID(args[1], "社区ID"),
			UserID:      parseID(args[2], "用户ID"),
			Role:        role,
			JoinedAt:    time.Now(),
		}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).Create(&member).Error
		if err != nil {
			log.Fatalf("保存成员失败: %v", err)
		}
		fmt.Printf("用户 %d 在社区 %d 的角色: %s\n", member.UserID, member.CommunityID, member.Role)

	case "token":
		need(args, 2, "需要指定用户ID")
		userID := parseID(args[1], "用户ID")
		info, err := storage.NewGormUserRepository(db).GetBasicInfoByID(ctx, userID)
		if err != nil {
			log.Fatalf("查找用户失败: %v", err)
		}
		token, err := auth.GenerateToken(info.ID, info.Username, cfg.Auth)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)

	case "show-conversation":
		need(args, 2, "需要指定会话ID")
		showConversation(ctx, db, parseID(args[1], "会话ID"))

	case "list-participants":
		need(args, 2, "需要指定会话ID")
		listParticipants(ctx, storage.NewGormConversationRepository(db), parseID(args[1], "会话ID"))

	case "list-blocks":
		need(args, 2, "需要指定用户ID")
		listBlocks(ctx, storage.NewGormBlockRepository(db), parseID(args[1], "用户ID"))

	default:
		usage()
		log.Fatalf("未知命令: %s", args[0])
	}
}

func need(args []string, n int, msg string) {
	if len(args) < n {
		log.Fatal(msg)
	}
}

func parseID(raw, what string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		log.Fatalf("无效的%s: %q", what, raw)
	}
	return uint(id)
}

func listParticipants(ctx context.Context, repo storage.ConversationRepository, conversationID uint) {
	participants, err := repo.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		log.Fatalf("获取参与者失败: %v", err)
	}

	fmt.Printf("会话 %d 的参与者 (%d 人):\n", conversationID, len(participants))
	fmt.Println("--------------------------------------")
	for i, p := range participants {
		fmt.Printf("#%d 用户ID: %d, 未读: %d, 已归档: %v, 已清除(发/收): %d/%d\n",
			i+1, p.UserID, p.UnreadCount, p.Archived, p.ClearedSentThrough, p.ClearedReceivedThrough)
	}
}

func showConversation(ctx context.Context, db *gorm.DB, conversationID uint) {
	conversation, err := storage.NewGormConversationRepository(db).GetConversationByID(ctx, conversationID)
	if err != nil {
		log.Fatalf("获取会话失败: %v", err)
	}

	fmt.Printf("会话 %d 信息:\n", conversationID)
	fmt.Println("--------------------------------------")
	fmt.Printf("类型: %s\n", conversation.Type)
	switch conversation.Type {
	case models.DirectConversation:
		fmt.Printf("参与者: %d, %d\n", conversation.UserLowID, conversation.UserHighID)
	case models.GroupConversation:
		fmt.Printf("社区ID: %d\n", conversation.CommunityID)
	}
	fmt.Printf("创建时间: %s\n", conversation.CreatedAt.Format("2006-01-02 15:04:05"))
	if conversation.LastMessageAt != nil {
		fmt.Printf("最后消息时间: %s\n", conversation.LastMessageAt.Format("2006-01-02 15:04:05"))
	}

	var count int64
	if err := db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		fmt.Printf("统计消息失败: %v\n", err)
		return
	}
	fmt.Printf("未删除消息数: %d\n", count)
}

func listBlocks(ctx context.Context, repo storage.BlockRepository, userID uint) {
	blocks, err := repo.ListByBlocker(ctx, userID)
	if err != nil {
		log.Fatalf("获取屏蔽列表失败: %v", err)
	}
	fmt.Printf("用户 %d 屏蔽了 %d 人:\n", userID, len(blocks))
	for _, b := range blocks {
		fmt.Printf("  用户ID: %d, 自 %s\n", b.BlockedID, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
