package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/viper"
)

// SeedFile is the YAML layout of a prompt seed file:
//
//	prompts:
//	  system_message: |
//	    ...
type SeedFile struct {
	Prompts map[string]string `mapstructure:"prompts"`
}

// DefaultSeeds are used for names that have neither a stored version nor a
// seed file entry.
var DefaultSeeds = map[string]string{
	SystemMessage: "Ты вежливый консультант службы поддержки. Отвечай кратко и по делу.",
	LeadDiscovery: "Ты менеджер по продажам. Вежливо выясни потребности клиента и контакты для связи.",
	KnowledgeBase: "Определи намерение сообщения клиента. Ответь одной меткой: " +
		"ИСПОЛЬЗОВАТЬ_RAG, если нужен поиск по каталогу и базе знаний; " +
		"НЕ_ИСПОЛЬЗОВАТЬ_RAG, если это приветствие или общий вопрос; " +
		"ОЦЕНИТЬ_ЛИДА, если клиент готов к покупке или оставляет контакты.",
}

// LoadSeedFile reads prompt seeds from a YAML file.
func LoadSeedFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt seed file: %w", err)
	}

	var f SeedFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode prompt seed file: %w", err)
	}

	seeds := make(map[string]string, len(f.Prompts))
	for name, content := range f.Prompts {
		canonical, ok := Canonical(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownName, name, path)
		}
		seeds[canonical] = content
	}
	return seeds, nil
}

// Seed stores a first version for every known name that has none yet.
// Entries in seeds take precedence over DefaultSeeds. It returns the number
// of prompts written.
func Seed(ctx context.Context, s *Store, seeds map[string]string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names := KnownNames()
	sort.Strings(names)

	written := 0
	for _, name := range names {
		_, err := s.Get(ctx, name, "")
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return written, err
		}

		content, ok := seeds[name]
		if !ok {
			content = DefaultSeeds[name]
		}
		if _, err := s.Put(ctx, name, content, "seed"); err != nil {
			return written, fmt.Errorf("seed prompt %s: %w", name, err)
		}
		logger.Info("Seeded prompt", "name", name, "from_file", ok)
		written++
	}
	return written, nil
}
