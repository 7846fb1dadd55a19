package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentbot/internal/transport"
	"agentbot/pkg/logx"
)

// maxTransferBytes caps files in both directions. Telegram's bot API
// refuses larger documents anyway.
const maxTransferBytes = 50 << 20

// handleUpload saves an attached document or photo into the upload
// directory so a later prompt can refer to it by path.
func (s *Service) handleUpload(ctx context.Context, m *transport.Message) {
	if s.cfg.UploadDir == "" {
		s.reply(ctx, m.ChatID, "file uploads are not configured")
		return
	}
	if m.FileSize > maxTransferBytes {
		s.reply(ctx, m.ChatID, fmt.Sprintf("file too big: %d MB (max %d MB)",
			m.FileSize>>20, maxTransferBytes>>20))
		return
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.log.Error("failed to create upload dir", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not save the file")
		return
	}

	name := filepath.Base(strings.TrimSpace(m.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload_" + m.FileID
	}
	dest := uniquePath(filepath.Join(s.cfg.UploadDir, name))

	if err := s.deps.Adapter.DownloadFile(ctx, m.FileID, dest); err != nil {
		s.log.Error("file download failed", logx.String("file_id", m.FileID), logx.Err(err))
		s.reply(ctx, m.ChatID, "could not save the file")
		return
	}
	s.log.Info("file saved", logx.String("path", dest), logx.Int64("bytes", m.FileSize))
	s.reply(ctx, m.ChatID, "saved to "+dest)

	// A caption rides along as a prompt about the freshly saved file.
	if caption := strings.TrimSpace(m.Text); caption != "" {
		s.handlePrompt(ctx, m.ChatID, caption+"\n\n(attached file: "+dest+")")
	}
}

// cmdGetFile sends a file from the machine back into the chat.
func (s *Service) cmdGetFile(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m.ChatID, "usage: /getfile <path>")
		return
	}
	path := strings.Join(args, " ")
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.workDir(m.ChatID), path)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.reply(ctx, m.ChatID, "file not found: "+path)
		return
	}
	if info.Size() > maxTransferBytes {
		s.reply(ctx, m.ChatID, fmt.Sprintf("file too big: %d MB (max %d MB)",
			info.Size()>>20, maxTransferBytes>>20))
		return
	}

	if err := s.deps.Adapter.SendFile(ctx, transport.ChatTarget{ChatID: m.ChatID}, path); err != nil {
		s.log.Error("file send failed", logx.String("path", path), logx.Err(err))
		s.reply(ctx, m.ChatID, "could not send the file")
	}
}

// uniquePath returns path, or the first "name_1.ext", "name_2.ext", ...
// variant that does not exist yet.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
