package udp

const RxQueueLen = rxQueueLen
