// Package prebuilt provides ready-made graphs for common agent shapes.
//
// Each constructor returns an uncompiled *stategraph.Graph so callers can
// attach a checkpointer or interrupts before compiling:
//
//	g, err := prebuilt.NewReAct(chat, []prebuilt.Tool{
//	    {Name: "search", Description: "web search", Fn: search},
//	})
//	if err != nil {
//	    return err
//	}
//	compiled, err := g.Compile(stategraph.WithMaxIterations(20))
//
// The graphs talk to models through stategraph.Chatter, so an llm.Chat
// keeps the conversation across turns.
package prebuilt
