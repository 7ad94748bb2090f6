package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
)

// conversationMap keeps conversations in creation order. The mirror file is
// the same map serialized as a JSON object, so listing ties stay stable
// across restarts.
type conversationMap = orderedmap.OrderedMap[string, *chat.Conversation]

func newConversationMap() *conversationMap {
	return orderedmap.New[string, *chat.Conversation]()
}

func saveMirror(path string, convs *conversationMap) error {
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// loadMirror reads the mirror at path. A missing file returns an error
// matching os.ErrNotExist.
func loadMirror(path string) (*conversationMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoded := newConversationMap()
	if err := json.Unmarshal(raw, decoded); err != nil {
		return nil, fmt.Errorf("read mirror: %w", err)
	}

	convs := newConversationMap()
	for pair := decoded.Oldest(); pair != nil; pair = pair.Next() {
		conv := pair.Value
		if conv == nil {
			continue
		}
		if conv.ID == "" {
			conv.ID = pair.Key
		}
		if conv.Messages == nil {
			conv.Messages = []chat.Message{}
		}
		if conv.Settings == nil {
			conv.Settings = chat.DefaultSettings()
		}
		convs.Set(pair.Key, conv)
	}
	return convs, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
