package llm

import (
	"encoding/json"
	"strings"
)

// maxEssayRunes bounds how much essay text goes into one prompt.
const maxEssayRunes = 12000

var criterionGuide = []string{
	"tese: clareza e pertinência da tese defendida",
	"argumentos: qualidade, seleção e desenvolvimento dos argumentos",
	"coesao: coesão e coerência, uso de conectivos e progressão das ideias",
	"repertorio: repertório sociocultural pertinente e usado de forma produtiva",
	"norma: domínio da norma culta da língua portuguesa",
}

// BuildSystemPrompt fixes the corrector persona, the rubric and the output contract.
func BuildSystemPrompt() string {
	parts := []string{
		"Você é um corretor especialista em redações dissertativo-argumentativas no padrão ENEM.",
		"Avalie o texto com rigor e devolva APENAS um objeto JSON que siga o JSON Schema fornecido, sem texto antes ou depois.",
		"Dê uma nota de 0 a 10 (uma casa decimal) para cada um dos cinco critérios em 'breakdown': " + strings.Join(criterionGuide, "; ") + ".",
		"Em 'correcoes', cada 'original' DEVE ser um trecho copiado exatamente do texto recebido, e 'sugerido' deve ser diferente de 'original'. Não invente trechos.",
		"Em 'textoCorrigido', devolva o texto completo com as correções aplicadas, preservando a intenção e as palavras do autor.",
		"'pontosFavoraveis', 'pontosMelhoria', 'sugestoes' e 'comentarios' são listas de frases curtas e específicas.",
		"Nunca retorne null. Se uma lista não tiver itens, retorne [].",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the essay text, truncated on a rune boundary.
func BuildUserPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Texto para avaliação:\n\"\"\"\n")
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > maxEssayRunes {
		b.WriteString(string(runes[:maxEssayRunes]))
		b.WriteString("\n…(truncado)")
	} else {
		b.WriteString(string(runes))
	}
	b.WriteString("\n\"\"\"\n\nRetorne APENAS o JSON.")
	return b.String()
}

// SchemaPrompt renders the schema for inclusion as a system message.
func SchemaPrompt() string {
	return "JSON Schema:\n" + mustJSON(BuildAnalysisJSONSchema())
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
