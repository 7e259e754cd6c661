// Package dbc compiles DBC databases and decodes CAN frames against them.
package dbc

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"
)

// Compiler turns DBC source into a descriptor database usable for decoding.
type Compiler struct {
	db   *descriptor.Database
	defs []dbc.Def

	// warnings collects non-fatal metadata problems (comments or value
	// descriptions referring to undeclared signals, and the like).
	warnings []error
}

// NewCompiler parses and compiles DBC source. name is used in parse
// diagnostics only, conventionally the file name.
func NewCompiler(name string, src []byte) (*Compiler, error) {
	p := dbc.NewParser(name, src)
	if err := p.Parse(); err != nil {
		return nil, errors.Wrap(err, "parse dbc")
	}

	c := &Compiler{
		db:   &descriptor.Database{SourceFile: name},
		defs: p.Defs(),
	}
	c.collectDescriptors()
	c.addMetadata()
	c.sortDescriptors()
	return c, nil
}

// Database returns the compiled descriptor database.
func (c *Compiler) Database() *descriptor.Database {
	return c.db
}

// Warnings returns the non-fatal problems encountered while compiling.
func (c *Compiler) Warnings() []error {
	return c.warnings
}

func (c *Compiler) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, errors.Newf(format, args...))
}

/*
ref: https://github.com/einride/can-go/internal/generate/compile.go
*/
func (c *Compiler) collectDescriptors() {
	for _, def := range c.defs {
		switch def := def.(type) {
		case *dbc.VersionDef:
			c.db.Version = def.Version
		case *dbc.MessageDef:
			if def.MessageID == dbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			message := &descriptor.Message{
				Name:       string(def.Name),
				ID:         def.MessageID.ToCAN(),
				IsExtended: def.MessageID.IsExtended(),
				Length:     uint8(def.Size),
				SenderNode: string(def.Transmitter),
			}
			for _, signalDef := range def.Signals {
				message.Signals = append(message.Signals, compileSignal(signalDef))
			}
			c.db.Messages = append(c.db.Messages, message)
		case *dbc.NodesDef:
			for _, node := range def.NodeNames {
				c.db.Nodes = append(c.db.Nodes, &descriptor.Node{Name: string(node)})
			}
		}
	}
}

func compileSignal(def dbc.SignalDef) *descriptor.Signal {
	signal := &descriptor.Signal{
		Name:             string(def.Name),
		IsBigEndian:      def.IsBigEndian,
		IsSigned:         def.IsSigned,
		IsMultiplexer:    def.IsMultiplexerSwitch,
		IsMultiplexed:    def.IsMultiplexed,
		MultiplexerValue: uint(def.MultiplexerSwitch),
		Start:            uint8(def.StartBit),
		Length:           uint8(def.Size),
		Scale:            def.Factor,
		Offset:           def.Offset,
		Min:              def.Minimum,
		Max:              def.Maximum,
		Unit:             def.Unit,
	}
	for _, receiver := range def.Receivers {
		signal.ReceiverNodes = append(signal.ReceiverNodes, string(receiver))
	}
	return signal
}

func (c *Compiler) addMetadata() {
	for _, def := range c.defs {
		switch def := def.(type) {
		case *dbc.SignalValueTypeDef:
			c.addSignalValueType(def)
		case *dbc.CommentDef:
			c.addComment(def)
		case *dbc.ValueDescriptionsDef:
			c.addValueDescriptions(def)
		case *dbc.AttributeValueForObjectDef:
			c.addAttributeValue(def)
		}
	}
}

func (c *Compiler) addSignalValueType(def *dbc.SignalValueTypeDef) {
	signal, ok := c.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
	if !ok {
		c.warnf("no declared signal: %v", def)
		return
	}
	switch def.SignalValueType {
	case dbc.SignalValueTypeInt:
		signal.IsFloat = false
	case dbc.SignalValueTypeFloat32:
		if signal.Length != 32 {
			c.warnf("incorrect float signal length: %d", signal.Length)
			return
		}
		signal.IsFloat = true
	default:
		c.warnf("unsupported signal value type: %v", def.SignalValueType)
	}
}

func (c *Compiler) addComment(def *dbc.CommentDef) {
	if def.MessageID == dbc.IndependentSignalsMessageID {
		return // don't compile
	}
	switch def.ObjectType {
	case dbc.ObjectTypeMessage:
		message, ok := c.db.Message(def.MessageID.ToCAN())
		if !ok {
			c.warnf("no declared message: %v", def)
			return
		}
		message.Description = def.Comment
	case dbc.ObjectTypeSignal:
		signal, ok := c.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
		if !ok {
			c.warnf("no declared signal: %v", def)
			return
		}
		signal.Description = def.Comment
	case dbc.ObjectTypeNetworkNode:
		node, ok := c.db.Node(string(def.NodeName))
		if !ok {
			c.warnf("no declared node: %v", def)
			return
		}
		node.Description = def.Comment
	}
}

func (c *Compiler) addValueDescriptions(def *dbc.ValueDescriptionsDef) {
	if def.MessageID == dbc.IndependentSignalsMessageID {
		return // don't compile
	}
	if def.ObjectType != dbc.ObjectTypeSignal {
		return // don't compile
	}
	signal, ok := c.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
	if !ok {
		c.warnf("no declared signal: %v", def)
		return
	}
	for _, vd := range def.ValueDescriptions {
		signal.ValueDescriptions = append(signal.ValueDescriptions, &descriptor.ValueDescription{
			Description: vd.Description,
			Value:       int64(vd.Value),
		})
	}
}

func (c *Compiler) addAttributeValue(def *dbc.AttributeValueForObjectDef) {
	switch def.ObjectType {
	case dbc.ObjectTypeMessage:
		msg, ok := c.db.Message(def.MessageID.ToCAN())
		if !ok {
			c.warnf("no declared message: %v", def)
			return
		}
		switch def.AttributeName {
		case "GenMsgSendType":
			if err := msg.SendType.UnmarshalString(def.StringValue); err != nil {
				c.warnf("failed to unmarshal message send type: %v", def)
			}
		case "GenMsgCycleTime":
			msg.CycleTime = time.Duration(def.IntValue) * time.Millisecond
		case "GenMsgDelayTime":
			msg.DelayTime = time.Duration(def.IntValue) * time.Millisecond
		}
	case dbc.ObjectTypeSignal:
		sig, ok := c.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
		if !ok {
			c.warnf("no declared signal: %v", def)
			return
		}
		if def.AttributeName == "GenSigStartValue" {
			sig.DefaultValue = int(def.IntValue)
		}
	}
}

func (c *Compiler) sortDescriptors() {
	// Sort nodes by name
	sort.Slice(c.db.Nodes, func(i, j int) bool {
		return c.db.Nodes[i].Name < c.db.Nodes[j].Name
	})
	// Sort messages by ID
	sort.Slice(c.db.Messages, func(i, j int) bool {
		return c.db.Messages[i].ID < c.db.Messages[j].ID
	})
	for _, m := range c.db.Messages {
		// Sort signals by start (and multiplexer value)
		sort.Slice(m.Signals, func(j, k int) bool {
			if m.Signals[j].MultiplexerValue != m.Signals[k].MultiplexerValue {
				return m.Signals[j].MultiplexerValue < m.Signals[k].MultiplexerValue
			}
			return m.Signals[j].Start < m.Signals[k].Start
		})
		// Sort value descriptions by value
		for _, s := range m.Signals {
			sort.Slice(s.ValueDescriptions, func(k, l int) bool {
				return s.ValueDescriptions[k].Value < s.ValueDescriptions[l].Value
			})
		}
	}
}
