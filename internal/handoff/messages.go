package handoff

// clientMessages is the pool of simulated inbound customer messages. The
// loop draws from it at random to drive the conversation while a channel
// has no live inbound webhook wired up.
var clientMessages = []string{
	"Hi! I'm interested in your products. Can you tell me more?",
	"What are your business hours?",
	"Do you offer international shipping?",
	"I'd like to know about your return policy.",
	"Can I get a discount on bulk orders?",
	"Is this item still in stock?",
	"How long does delivery usually take?",
	"Do you have this in a different size?",
	"What payment methods do you accept?",
	"Thanks for the quick response!",
	"Can I change my order after placing it?",
	"Is there a warranty on this?",
}

func (o *Orchestrator) pickClientMessage() string {
	idx := int(o.rng() * float64(len(clientMessages)))
	if idx >= len(clientMessages) {
		idx = len(clientMessages) - 1
	}
	return clientMessages[idx]
}
