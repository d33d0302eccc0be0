/*
 * ia32core - Configuration file parser
 *
 * Copyright (c) 2025 The ia32core Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING
 * FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER
 * DEALINGS IN THE SOFTWARE.
 */

// Package configparser reads the line-oriented configuration file that
// selects the emulated microarchitecture, sizes guest memory, and
// toggles trace switches. One directive per line, '#' starts a
// comment.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <directive> <whitespace> <first> *(<whitespace> <option>) |
 *            'cpu' <string> |
 *            <switch>
 * <directive> ::= <string>
 * <first> ::= <string> | <number>
 * <option> ::= <name> ['=' <quoteopt>] *(',' <string>)
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 */

// DirectiveType classifies how a directive's remaining tokens on the
// line are parsed, mirroring the original's per-model type tags.
const (
	TypeModel   = 1 + iota // cpu <name> — selects a timing backend.
	TypeOption             // directive <value> — single scalar option.
	TypeOptions            // directive <value> <opt>,<opt>... — option list.
	TypeSwitch             // directive alone — boolean flag.
)

// Option is one comma-separated option token, optionally carrying a
// "name=value" pair.
type Option struct {
	Name     string
	EqualOpt string
	Value    []*string
}

type directiveName struct {
	name string
}

type firstOption struct {
	numeric bool
	number  uint64
	value   string
}

type optionLine struct {
	line string
	pos  int
}

type directiveDef struct {
	create func(first string, options []Option) error
	ty     int
}

var directives = map[string]directiveDef{}

var lineNumber int

func getDirective(name string) int {
	d, ok := directives[name]
	if !ok {
		return 0
	}
	return d.ty
}

// RegisterModel registers a "cpu <name>"-style directive that takes one
// bare token (spec.md section 4.10's backend-selection directive).
func RegisterModel(name string, fn func(first string, options []Option) error) {
	directives[strings.ToUpper(name)] = directiveDef{create: fn, ty: TypeModel}
}

// RegisterSwitch registers a bare boolean directive, e.g. "trace".
func RegisterSwitch(name string, fn func(first string, options []Option) error) {
	directives[strings.ToUpper(name)] = directiveDef{create: fn, ty: TypeSwitch}
}

// RegisterOption registers a directive taking one scalar value, e.g.
// "memsize 65536".
func RegisterOption(name string, fn func(first string, options []Option) error) {
	directives[strings.ToUpper(name)] = directiveDef{create: fn, ty: TypeOption}
}

// RegisterOptions registers a directive taking one value plus a
// comma-separated option list, e.g. "logfile trace.log level=debug".
func RegisterOptions(name string, fn func(first string, options []Option) error) {
	directives[strings.ToUpper(name)] = directiveDef{create: fn, ty: TypeOptions}
}

// LoadConfigFile parses name line by line, invoking the handler
// registered for each directive.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	lineNumber = 0
	reader := bufio.NewReader(file)
	for {
		line := optionLine{}
		var err error
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if perr := line.parseLine(); perr != nil {
			return perr
		}
	}
	return nil
}

func (line *optionLine) parseLine() error {
	d := line.parseDirective()
	if d == nil {
		return nil
	}
	switch getDirective(d.name) {
	case TypeModel:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("directive %s requires a value, line %d", d.name, lineNumber)
		}
		return directives[d.name].create(first.value, nil)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if first == nil || !line.isEOL() {
			return fmt.Errorf("option %s not followed by a single value, line %d", d.name, lineNumber)
		}
		return directives[d.name].create(first.value, nil)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("option %s requires a value, line %d", d.name, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return directives[d.name].create(first.value, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch %s followed by options, line %d", d.name, lineNumber)
		}
		return directives[d.name].create("", nil)

	case 0:
		return fmt.Errorf("no directive %s registered, line %d", d.name, lineNumber)
	}
	return nil
}

func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

func (line *optionLine) getPeek() byte {
	if line.pos+1 >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

func (line *optionLine) parseDirective() *directiveName {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}

	d := directiveName{}
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			d.name += string([]byte{by})
			line.pos++
			continue
		}
		break
	}
	d.name = strings.ToUpper(d.name)
	return &d
}

func (line *optionLine) parseFirst() *firstOption {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}

	value := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			value += string([]byte{by})
			line.pos++
			continue
		}
		break
	}

	opt := &firstOption{value: value}
	if n, err := strconv.ParseUint(value, 0, 64); err == nil {
		opt.numeric = true
		opt.number = n
	}
	return opt
}

func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext(true)
	}

	for {
		by := line.getNext(inQuote)
		if by == '"' && inQuote {
			by = line.getNext(inQuote)
			if by != '"' {
				return value, true
			}
		}

		space := unicode.IsSpace(rune(by))
		if !inQuote && (space || by == 0 || by == ',') {
			return value, true
		}

		value += string(by)
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}
	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		if !line.isEOL() {
			return "", fmt.Errorf("invalid option encountered line %d [%d]", lineNumber, line.pos)
		}
		return "", nil
	}
	value := ""
	for {
		value += string([]byte{by})
		by = line.getNext(false)
		if by == 0 {
			break
		}
	}
	return value, nil
}

func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()
	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}
	if line.isEOL() {
		return &option, nil
	}

	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line %d [%d]", lineNumber, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

func (line *optionLine) parseOptions() ([]Option, error) {
	var options []Option
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}
