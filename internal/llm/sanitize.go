package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/essay-grader/constants"
)

var listFields = []string{"pontosFavoraveis", "pontosMelhoria", "sugestoes", "comentarios"}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (pontosFortes -> pontosFavoraveis, notas -> breakdown)
// - Canonicalizes criterion keys ("Coesão" -> coesao) and coerces "7,5" to 7.5
// - Clamps scores to the rubric range
// - Turns null or single-string lists into arrays
// - Drops malformed corrections and unknown keys
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	changed := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			changed = append(changed, from+"->"+to)
		}
	}

	// 1) rename synonyms to the schema
	renamed("texto_corrigido", "textoCorrigido")
	renamed("textoFormatado", "textoCorrigido")
	renamed("correcoes_sugeridas", "correcoes")
	renamed("corrections", "correcoes")
	renamed("notas", "breakdown")
	renamed("criterios", "breakdown")
	renamed("scores", "breakdown")
	renamed("nota_geral", "notaGeral")
	renamed("notaFinal", "notaGeral")
	renamed("pontosFortes", "pontosFavoraveis")
	renamed("pontos_favoraveis", "pontosFavoraveis")
	renamed("pontosAMelhorar", "pontosMelhoria")
	renamed("pontos_melhoria", "pontosMelhoria")
	renamed("comentario", "comentarios")
	renamed("comentarioGeral", "comentarios")

	// 2) breakdown: canonical keys, numeric values in range
	if b, ok := m["breakdown"].(map[string]any); ok {
		out := map[string]any{}
		for k, v := range b {
			c, ok := constants.CanonicalCriterion(k)
			if !ok {
				changed = append(changed, "breakdown."+k+"(unknown)")
				continue
			}
			if obj, isObj := v.(map[string]any); isObj {
				v = firstPresent(obj, "nota", "score", "valor")
			}
			f, ok := coerceScore(v)
			if !ok {
				changed = append(changed, "breakdown."+k+"(type)")
				continue
			}
			if string(c) != k {
				changed = append(changed, "breakdown."+k+"->"+string(c))
			}
			out[string(c)] = f
		}
		m["breakdown"] = out
	}

	// 3) overall score is informative; drop it when unusable
	if v, ok := m["notaGeral"]; ok {
		if f, ok := coerceScore(v); ok {
			m["notaGeral"] = f
		} else {
			delete(m, "notaGeral")
			changed = append(changed, "notaGeral(type)")
		}
	}

	// 4) lists
	for _, k := range listFields {
		m[k] = coerceStringList(m[k])
	}

	// 5) corrections
	if v, ok := m["correcoes"]; ok {
		items, _ := v.([]any)
		kept := make([]any, 0, len(items))
		for _, it := range items {
			obj, ok := it.(map[string]any)
			if !ok {
				changed = append(changed, "correcoes[](type)")
				continue
			}
			c := map[string]any{}
			orig, _ := firstPresent(obj, "original", "trecho").(string)
			sug, _ := firstPresent(obj, "sugerido", "corrigido", "sugestao", "correcao").(string)
			if strings.TrimSpace(orig) == "" {
				changed = append(changed, "correcoes[](empty)")
				continue
			}
			c["original"] = orig
			c["sugerido"] = sug
			if why, ok := firstPresent(obj, "motivo", "explicacao", "justificativa").(string); ok && why != "" {
				c["motivo"] = why
			}
			kept = append(kept, c)
		}
		m["correcoes"] = kept
	} else {
		m["correcoes"] = []any{}
	}

	// 6) remove unknown keys
	allowed := map[string]struct{}{
		"textoCorrigido": {}, "correcoes": {}, "breakdown": {}, "notaGeral": {},
		"pontosFavoraveis": {}, "pontosMelhoria": {}, "sugestoes": {}, "comentarios": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Warn("llm.analyze.normalize_sanitize", "changed", changed)
	}
	return out, changed, nil
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// coerceScore accepts numbers and numeric strings with either decimal mark.
func coerceScore(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Max(constants.MinScore, math.Min(constants.MaxScore, f)), true
}

func coerceStringList(v any) []any {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []any{s}
		}
	case []any:
		out := make([]any, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return []any{}
}
