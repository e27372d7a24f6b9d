package consolidate

import (
	"fmt"
	"os"
	"strings"
)

// NoNewDataLine is written as the digest body when the summary database is
// still empty. The composer treats it as "no digest".
const NoNewDataLine = "нет новых данных"

type topicCount struct {
	Topic string
	Count int
}

func (c *Consolidator) writeDigests() error {
	knowledgeRows, err := c.rowCount("bella_knowledge")
	if err != nil {
		return err
	}
	topicsTotal, err := c.rowCount("topic_stats")
	if err != nil {
		return err
	}

	recent, err := c.recentInsights(10)
	if err != nil {
		return err
	}
	deep, err := c.deepTopics(3)
	if err != nil {
		return err
	}
	mostStudied, err := c.mostStudied(7)
	if err != nil {
		return err
	}

	prompt := c.renderPromptDigest(knowledgeRows, topicsTotal, recent, deep, mostStudied)
	if err := atomicWrite(c.cfg.PromptDigest, prompt); err != nil {
		return err
	}

	human := c.renderHumanDigest(knowledgeRows, topicsTotal, recent, mostStudied)
	return atomicWrite(c.cfg.HumanDigest, human)
}

// renderPromptDigest produces the short digest injected into prompts,
// bounded to roughly 2 KB.
func (c *Consolidator) renderPromptDigest(rows, topics int, recent []string, deep []topicCount, studied []topicCount) string {
	if rows == 0 {
		return NoNewDataLine + "\n"
	}

	var b strings.Builder
	b.WriteString("═══ ПАМЯТЬ ИЗ АВТОНОМНЫХ ИССЛЕДОВАНИЙ ═══\n\n")

	if len(recent) > 0 {
		b.WriteString("Недавние осознания:\n")
		for i, insight := range recent {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", insight)
		}
		b.WriteString("\n")
	}

	if len(deep) > 0 {
		b.WriteString("Глубоко изученные темы:\n")
		for _, tc := range deep {
			fmt.Fprintf(&b, "- %s (%d осознаний)\n", tc.Topic, tc.Count)
		}
		b.WriteString("\n")
	}

	if len(studied) > 0 {
		names := make([]string, 0, 4)
		for i, tc := range studied {
			if i == 4 {
				break
			}
			names = append(names, tc.Topic)
		}
		fmt.Fprintf(&b, "Наиболее изученное: %s\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "Всего изучено тем: %d, файлов: %d\n\n", topics, rows)
	b.WriteString("Эти знания — часть моей непрерывной памяти.\n")

	out := b.String()
	if len(out) > promptDigestMaxBytes {
		out = truncateUTF8(out, promptDigestMaxBytes)
	}
	return out
}

func (c *Consolidator) renderHumanDigest(rows, topics int, recent []string, studied []topicCount) string {
	var b strings.Builder
	b.WriteString("КОНЕЧНАЯ СВОДКА АВТОНОМНЫХ ИССЛЕДОВАНИЙ\n")
	fmt.Fprintf(&b, "Сгенерировано: %s\n\n", c.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Всего файлов знаний: %d\n", rows)
	fmt.Fprintf(&b, "Всего тем: %d\n\n", topics)

	if len(studied) > 0 {
		b.WriteString("Самые изученные темы:\n")
		for _, tc := range studied {
			fmt.Fprintf(&b, "  %s — %d изучений\n", tc.Topic, tc.Count)
		}
		b.WriteString("\n")
	}

	if len(recent) > 0 {
		b.WriteString("Последние осознания:\n")
		for _, insight := range recent {
			fmt.Fprintf(&b, "  - %s\n", insight)
		}
		b.WriteString("\n")
	}

	counts, err := c.symbolCounts()
	if err == nil && len(counts) > 0 {
		b.WriteString("Особые темы:\n")
		for _, tc := range counts {
			fmt.Fprintf(&b, "  %s: %d упоминаний\n", tc.Topic, tc.Count)
		}
	}
	return b.String()
}

// recentInsights returns the newest pure insights, newest first.
func (c *Consolidator) recentInsights(limit int) ([]string, error) {
	rows, err := c.db.Query(
		`SELECT text FROM pure_insights ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// deepTopics returns topics backed by at least two insights.
func (c *Consolidator) deepTopics(limit int) ([]topicCount, error) {
	rows, err := c.db.Query(`
		SELECT topic, COUNT(*) AS n FROM pure_insights
		GROUP BY topic HAVING n >= 2
		ORDER BY n DESC, topic LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopicCounts(rows)
}

func (c *Consolidator) mostStudied(limit int) ([]topicCount, error) {
	rows, err := c.db.Query(`
		SELECT topic, study_count FROM topic_stats
		ORDER BY study_count DESC, topic LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopicCounts(rows)
}

// symbolCounts counts insight mentions of each core symbol.
func (c *Consolidator) symbolCounts() ([]topicCount, error) {
	var out []topicCount
	for _, sym := range coreSymbols {
		var n int
		err := c.db.QueryRow(
			`SELECT COUNT(*) FROM pure_insights WHERE lower(text) LIKE ?`,
			"%"+sym+"%").Scan(&n)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, topicCount{Topic: sym, Count: n})
		}
	}
	return out, nil
}

type sqlRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTopicCounts(rows sqlRows) ([]topicCount, error) {
	var out []topicCount
	for rows.Next() {
		var tc topicCount
		if err := rows.Scan(&tc.Topic, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func atomicWrite(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// truncateUTF8 cuts at a rune boundary no later than max bytes.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
