package simengine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsLetter(c):
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' ||
				(rs[j] == '.' && j+1 < len(rs) && unicode.IsLetter(rs[j+1]))) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j])})
			i = j
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E' ||
				((rs[j] == '-' || rs[j] == '+') && (rs[j-1] == 'e' || rs[j-1] == 'E'))) {
				j++
			}
			text := string(rs[i:j])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n})
			i = j
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(rs) {
					return nil, fmt.Errorf("unterminated string")
				}
				if rs[j] == '\'' {
					if j+1 < len(rs) && rs[j+1] == '\'' {
						b.WriteRune('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteRune(rs[j])
				j++
			}
			toks = append(toks, token{kind: tokString, text: b.String()})
			i = j + 1
		case strings.ContainsRune("()[],;=:", c):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type expr interface{}

type (
	identExpr  struct{ name string }
	numberExpr struct{ v float64 }
	stringExpr struct{ v string }
	colonExpr  struct{}
	rangeExpr  struct{ lo, hi expr }
	callExpr   struct {
		name string
		args []expr
	}
	vectorExpr struct{ elems []expr }
)

// statement is one of: clear, assignment to one or more targets, or a bare
// expression evaluated for its effects.
type statement struct {
	clear   []string
	isClear bool
	targets []string
	value   expr
}

func parseStatement(src string) (statement, error) {
	src = strings.TrimSpace(src)
	src = strings.TrimSpace(strings.TrimSuffix(src, ";"))
	if fields := strings.Fields(src); len(fields) > 0 && fields[0] == "clear" {
		return statement{isClear: true, clear: fields[1:]}, nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return statement{}, err
	}
	p := &parser{toks: toks}
	var st statement
	if targets, ok := p.tryMultiTargets(); ok {
		st.targets = targets
	} else if p.peek().kind == tokIdent && p.peekAt(1).text == "=" {
		st.targets = []string{p.next().text}
		p.next()
	}
	if st.value, err = p.parseExpr(); err != nil {
		return statement{}, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return statement{}, fmt.Errorf("unexpected %q", t.text)
	}
	return st, nil
}

func parseExpression(src string) (expr, error) {
	st, err := parseStatement(src)
	if err != nil {
		return nil, err
	}
	if st.isClear || len(st.targets) > 0 {
		return nil, fmt.Errorf("expected an expression: %s", src)
	}
	return st.value, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.peekAt(0) }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == punct {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(punct string) error {
	if !p.accept(punct) {
		return fmt.Errorf("expected %q, got %q", punct, p.peek().text)
	}
	return nil
}

// tryMultiTargets consumes "[a, b] =" and restores the position when the
// input is not a multi-assignment.
func (p *parser) tryMultiTargets() ([]string, bool) {
	start := p.pos
	if !p.accept("[") {
		return nil, false
	}
	var names []string
	for {
		t := p.next()
		if t.kind != tokIdent {
			p.pos = start
			return nil, false
		}
		names = append(names, t.text)
		if p.accept("]") {
			break
		}
		if !p.accept(",") {
			p.pos = start
			return nil, false
		}
	}
	if !p.accept("=") {
		p.pos = start
		return nil, false
	}
	return names, true
}

func (p *parser) parseExpr() (expr, error) {
	t := p.next()
	switch {
	case t.kind == tokNumber:
		return numberExpr{v: t.num}, nil
	case t.kind == tokString:
		return stringExpr{v: t.text}, nil
	case t.kind == tokIdent:
		if !p.accept("(") {
			return identExpr{name: t.text}, nil
		}
		call := callExpr{name: t.text}
		if p.accept(")") {
			return call, nil
		}
		for {
			arg, err := p.parseArg()
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, arg)
			if p.accept(")") {
				return call, nil
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
	case t.kind == tokPunct && t.text == "[":
		var vec vectorExpr
		for !p.accept("]") {
			if p.peek().kind == tokEOF {
				return nil, fmt.Errorf("unterminated vector")
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vec.elems = append(vec.elems, e)
			p.accept(",")
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
}

func (p *parser) parseArg() (expr, error) {
	if t := p.peek(); t.kind == tokPunct && t.text == ":" {
		if n := p.peekAt(1); n.text == "," || n.text == ")" {
			p.next()
			return colonExpr{}, nil
		}
	}
	lo, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.accept(":") {
		return lo, nil
	}
	hi, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return rangeExpr{lo: lo, hi: hi}, nil
}
