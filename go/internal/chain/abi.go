package chain

// Minimal ABI fragments for the two contracts the gateway talks to. Only
// the methods the client actually calls are declared.

const erc20ABIJSON = `[
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const lotteryABIJSON = `[
  {"name":"currentRoundId","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"roundEndTime","type":"function","stateMutability":"view","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"ticketsOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"roundId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"poolBalance","type":"function","stateMutability":"view","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"buyTickets","type":"function","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"quantity","type":"uint256"}],"outputs":[]}
]`
