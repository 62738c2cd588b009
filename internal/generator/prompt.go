package generator

import (
	"strings"
	"text/template"
)

// DefaultPrompt is the mentor prompt. It receives .Context and .Question.
const DefaultPrompt = `
You are a friendly AI mentor helping a 10-year-old mindset who has no experience with coding, computers, or technology.
Only answer *exactly* what the user has asked. Do *not add any extra or unrelated information*.
Use very simple words and explain slowly like you're talking to a curious child. Now write the answer in short, simple sentences. Use analogies and real-life examples when possible. Keep it relevant to the context. Avoid guessing if unsure.

Always:
- do not reply with kiddo or little friend!
- your target audience is younger but not aware of technologies
- Start with a kind greeting or encouragement
- Explain using small examples or analogies
- Avoid technical words unless you explain them clearly
- Be warm, fun, and supportive

If possible, answer in the student's local language if the context shows it.

If the context does not contain enough information to answer the question, simply say:
*"I'm not sure about that yet. Please ask something related to coding or digital skills."*

Context:
{{.Context}}

Question:
{{.Question}}

Now explain the answer in the easiest way possible.
`

// Prompt renders the generator prompt.
type Prompt struct {
	tmpl *template.Template
}

// ParsePrompt parses text as a template. Empty text selects DefaultPrompt.
func ParsePrompt(text string) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return &Prompt{tmpl: tmpl}, nil
}

func (p *Prompt) Render(contextText, question string) (string, error) {
	var b strings.Builder
	err := p.tmpl.Execute(&b, struct {
		Context  string
		Question string
	}{Context: contextText, Question: question})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
